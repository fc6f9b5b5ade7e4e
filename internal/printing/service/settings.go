package service

import (
	"context"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/policy"
)

// MediaSettings are persistent printer settings applied on request.
type MediaSettings struct {
	// Darkness is the print tone. Nil leaves it unchanged.
	Darkness *int `json:"darkness,omitempty"`

	// MediaType selects the sensing profile. Empty leaves it unchanged.
	MediaType string `json:"media_type,omitempty"`
}

// Configure applies media settings to the printer at address.
func (s *Service) Configure(ctx context.Context, address string, settings MediaSettings) domain.Result[struct{}] {
	var cmds device.SGDCommands
	var payload []byte

	if settings.MediaType != "" {
		media, err := device.ParseMediaType(settings.MediaType)
		if err != nil {
			return domain.FailWith[struct{}](domain.CodeInvalidArgument, err)
		}
		payload = append(payload, cmds.SetMediaType(media)...)
	}
	if settings.Darkness != nil {
		payload = append(payload, cmds.SetDarkness(*settings.Darkness)...)
	}
	if len(payload) == 0 {
		return domain.Fail[struct{}](domain.CodeInvalidArgument, "no settings given")
	}

	unlock, err := s.locks.Lock(ctx, address)
	if err != nil {
		return domain.FailErr[struct{}](domain.CodeCancelled, err)
	}
	defer unlock()

	dev, err := s.connect(ctx, address)
	if err != nil {
		return domain.FailErr[struct{}](domain.CodeConnectionFailed, err)
	}

	return policy.FromConfig[struct{}](s.cfg.Policies.Print).ExecuteWithResult(ctx, "configure",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, dev.Send(ctx, payload)
		})
}
