package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/creamcroissant/xprovision/internal/repository"
)

// registryFile is the YAML seed format for `registry import`.
type registryFile struct {
	Servers []registryServer `yaml:"servers"`
	Tariffs []registryTariff `yaml:"tariffs"`
}

type registryServer struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	SecretPath    string `yaml:"secret_path"`
	PanelUsername string `yaml:"panel_username"`
	PanelPassword string `yaml:"panel_password"`
	Protocol      string `yaml:"protocol"`
	InboundID     int64  `yaml:"inbound_id"`
	Enabled       *bool  `yaml:"enabled"`
}

type registryTariff struct {
	ID           int64  `yaml:"id"`
	Name         string `yaml:"name"`
	DurationDays int    `yaml:"duration_days"`
}

func parseRegistryFile(r io.Reader) (*registryFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file registryFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	for i, t := range file.Tariffs {
		if t.DurationDays <= 0 {
			return nil, fmt.Errorf("tariffs[%d]: duration_days must be positive", i)
		}
	}
	return &file, nil
}

func (s registryServer) toServer() *repository.Server {
	enabled := s.Enabled == nil || *s.Enabled
	return &repository.Server{
		ID:            s.ID,
		Name:          s.Name,
		Address:       s.Address,
		Port:          s.Port,
		SecretPath:    s.SecretPath,
		PanelUsername: s.PanelUsername,
		PanelPassword: s.PanelPassword,
		Protocol:      s.Protocol,
		InboundID:     s.InboundID,
		Enabled:       enabled,
	}
}

func init() {
	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Server and tariff registry",
	}

	registryCmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert servers and tariffs from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			file, err := parseRegistryFile(f)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				for _, s := range file.Servers {
					server := s.toServer()
					if err := rt.app.Servers.Save(ctx, server); err != nil {
						return fmt.Errorf("server %q: %w", s.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "server %d %s saved\n", server.ID, server.Name)
				}
				for _, t := range file.Tariffs {
					tariff := &repository.Tariff{ID: t.ID, Name: t.Name, DurationDays: t.DurationDays}
					if err := rt.app.Store.Tariffs().Upsert(ctx, tariff); err != nil {
						return fmt.Errorf("tariff %q: %w", t.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "tariff %d %s saved\n", tariff.ID, tariff.Name)
				}
				return nil
			})
		},
	})

	registryCmd.AddCommand(&cobra.Command{
		Use:   "servers",
		Short: "List registered servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				servers, err := rt.app.Servers.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tADDRESS\tPROTOCOL\tINBOUND\tENABLED")
				for _, s := range servers {
					fmt.Fprintf(w, "%d\t%s\t%s:%d\t%s\t%d\t%t\n", s.ID, s.Name, s.Address, s.Port, s.Protocol, s.InboundID, s.Enabled)
				}
				return w.Flush()
			})
		},
	})

	registryCmd.AddCommand(&cobra.Command{
		Use:   "tariffs",
		Short: "List registered tariffs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				tariffs, err := rt.app.Store.Tariffs().ListAll(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tDAYS")
				for _, t := range tariffs {
					fmt.Fprintf(w, "%d\t%s\t%d\n", t.ID, t.Name, t.DurationDays)
				}
				return w.Flush()
			})
		},
	})

	registryCmd.AddCommand(&cobra.Command{
		Use:   "inbounds <server-id>",
		Short: "List the inbounds a server's panel exposes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("server id: %w", err)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				inbounds, err := rt.app.Servers.Inbounds(ctx, id)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tREMARK\tPORT\tPROTOCOL")
				for _, in := range inbounds {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", in.ID, in.Remark, in.Port, in.Protocol)
				}
				return w.Flush()
			})
		},
	})

	rootCmd.AddCommand(registryCmd)
}
