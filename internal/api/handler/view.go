package handler

import (
	"time"

	"github.com/creamcroissant/xprovision/internal/panel"
	"github.com/creamcroissant/xprovision/internal/repository"
	"github.com/creamcroissant/xprovision/internal/service"
)

// serverView omits the panel password.
type serverView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
	SecretPath    string `json:"secret_path"`
	PanelUsername string `json:"panel_username"`
	Protocol      string `json:"protocol"`
	InboundID     int64  `json:"inbound_id"`
	Enabled       bool   `json:"enabled"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

func newServerView(s *repository.Server) serverView {
	return serverView{
		ID:            s.ID,
		Name:          s.Name,
		Address:       s.Address,
		Port:          s.Port,
		SecretPath:    s.SecretPath,
		PanelUsername: s.PanelUsername,
		Protocol:      s.Protocol,
		InboundID:     s.InboundID,
		Enabled:       s.Enabled,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type serverInput struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
	SecretPath    string `json:"secret_path"`
	PanelUsername string `json:"panel_username"`
	PanelPassword string `json:"panel_password"`
	Protocol      string `json:"protocol"`
	InboundID     int64  `json:"inbound_id"`
	Enabled       *bool  `json:"enabled"`
}

func (in serverInput) toServer(id int64) *repository.Server {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return &repository.Server{
		ID:            id,
		Name:          in.Name,
		Address:       in.Address,
		Port:          in.Port,
		SecretPath:    in.SecretPath,
		PanelUsername: in.PanelUsername,
		PanelPassword: in.PanelPassword,
		Protocol:      in.Protocol,
		InboundID:     in.InboundID,
		Enabled:       enabled,
	}
}

type inboundView struct {
	ID       int64  `json:"id"`
	Remark   string `json:"remark"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

func newInboundViews(inbounds []panel.Inbound) []inboundView {
	out := make([]inboundView, 0, len(inbounds))
	for _, in := range inbounds {
		out = append(out, inboundView{ID: in.ID, Remark: in.Remark, Port: in.Port, Protocol: in.Protocol})
	}
	return out
}

type subscriptionView struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	TariffID      int64     `json:"tariff_id"`
	ServerID      int64     `json:"server_id"`
	EndsAt        time.Time `json:"ends_at"`
	ConnectionURI string    `json:"connection_uri"`
	Active        bool      `json:"active"`
	PaymentRef    *string   `json:"payment_ref,omitempty"`
	CreatedAt     int64     `json:"created_at"`
}

func newSubscriptionView(s *repository.Subscription) *subscriptionView {
	if s == nil {
		return nil
	}
	return &subscriptionView{
		ID:            s.ID,
		UserID:        s.UserID,
		TariffID:      s.TariffID,
		ServerID:      s.ServerID,
		EndsAt:        time.Unix(s.EndsAt, 0).UTC(),
		ConnectionURI: s.ConnectionURI,
		Active:        s.Active,
		PaymentRef:    s.PaymentRef,
		CreatedAt:     s.CreatedAt,
	}
}

type migrationView struct {
	State         service.MigrationState `json:"state"`
	FailedAt      service.MigrationState `json:"failed_at,omitempty"`
	RemainingDays int                    `json:"remaining_days,omitempty"`
	Old           *subscriptionView      `json:"old,omitempty"`
	New           *subscriptionView      `json:"new,omitempty"`
	OldRemoved    bool                   `json:"old_removed"`
	DeleteError   string                 `json:"delete_error,omitempty"`
}

func newMigrationView(r *service.MigrationResult) migrationView {
	view := migrationView{
		State:         r.State,
		FailedAt:      r.FailedAt,
		RemainingDays: r.RemainingDays,
		Old:           newSubscriptionView(r.Old),
		New:           newSubscriptionView(r.New),
		OldRemoved:    r.OldRemoved,
	}
	if r.DeleteErr != nil {
		view.DeleteError = r.DeleteErr.Error()
	}
	return view
}
