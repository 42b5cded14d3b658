package sessions

import (
	"context"
	"errors"
	"net/url"

	"github.com/focusroom/focusd/internal/sanitize"
	"github.com/focusroom/focusd/internal/store"
)

const (
	maxNameRunes = 80
	maxBioRunes  = 500
)

// ProfileUpdate holds the editable profile fields. Empty fields keep the
// stored value.
type ProfileUpdate struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
}

// GetProfile returns a profile by id.
func (s *Service) GetProfile(ctx context.Context, id string) (*store.Profile, error) {
	if err := sanitize.ValidateID(id); err != nil {
		return nil, invalid(err)
	}
	return s.repo.GetProfile(ctx, id)
}

// UpdateProfile edits the caller's own profile.
func (s *Service) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*store.Profile, error) {
	if userID == "" {
		return nil, ErrForbidden
	}
	p := store.Profile{ID: userID}

	var err error
	if u.FullName != "" {
		if p.FullName, err = sanitize.Line(u.FullName, maxNameRunes); err != nil {
			return nil, invalid(sanitize.Field("full_name", err))
		}
	}
	if u.Bio != "" {
		if p.Bio, err = sanitize.Text(u.Bio, maxBioRunes); err != nil {
			return nil, invalid(sanitize.Field("bio", err))
		}
		if s.scrub != nil {
			p.Bio = s.scrub.String(p.Bio)
		}
	}
	if u.AvatarURL != "" {
		parsed, err := url.ParseRequestURI(u.AvatarURL)
		if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			return nil, invalid(errors.New("avatar_url: must be an absolute http(s) URL"))
		}
		p.AvatarURL = parsed.String()
	}
	return s.repo.UpsertProfile(ctx, p)
}
