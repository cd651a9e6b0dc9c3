package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRegistry = `
servers:
  - id: 1
    name: fra-1
    address: fra.example.net
    port: 2053
    secret_path: s3cr3t
    panel_username: admin
    panel_password: pw
    protocol: vless-reality
    inbound_id: 3
  - name: ams-ss
    address: ams.example.net
    port: 54321
    protocol: shadowsocks-2022
    inbound_id: 1
    enabled: false
tariffs:
  - id: 10
    name: month
    duration_days: 30
`

func TestParseRegistryFile(t *testing.T) {
	file, err := parseRegistryFile(strings.NewReader(sampleRegistry))
	require.NoError(t, err)
	require.Len(t, file.Servers, 2)
	require.Len(t, file.Tariffs, 1)

	first := file.Servers[0].toServer()
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "s3cr3t", first.SecretPath)
	assert.True(t, first.Enabled)

	second := file.Servers[1].toServer()
	assert.Zero(t, second.ID)
	assert.False(t, second.Enabled)
	assert.Equal(t, 30, file.Tariffs[0].DurationDays)
}

func TestParseRegistryFileRejectsBadInput(t *testing.T) {
	_, err := parseRegistryFile(strings.NewReader("servers:\n  - adress: typo\n"))
	assert.Error(t, err)

	_, err = parseRegistryFile(strings.NewReader("tariffs:\n  - id: 1\n    duration_days: 0\n"))
	assert.Error(t, err)

	file, err := parseRegistryFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, file.Servers)
}
