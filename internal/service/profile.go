package service

import (
	"context"
	"errors"
	"fmt"

	"accounts/internal/models"
	"accounts/internal/profile"
	"accounts/internal/store"
)

func (s *Service) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	skills, err := s.st.ListSkills(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	links, err := s.st.ListLinks(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{User: u, Skills: skills, Links: links}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, form profile.Form) (models.Profile, error) {
	brands, err := s.st.ListLinkBrands(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	cleaned, err := form.Validate(brands)
	if err != nil {
		return models.Profile{}, err
	}
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpdateUserProfileFields(ctx, userID, cleaned.FirstName, cleaned.LastName, cleaned.Bio); err != nil {
			return err
		}
		if err := tx.ReplaceSkills(ctx, userID, cleaned.Skills); err != nil {
			return err
		}
		return tx.ReplaceLinks(ctx, userID, cleaned.Links)
	})
	if errors.Is(err, store.ErrConflict) {
		return models.Profile{}, profile.ValidationErrors{"form": "skills and links must be unique"}
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *Service) ListLinkBrands(ctx context.Context) ([]models.LinkBrand, error) {
	return s.st.ListLinkBrands(ctx)
}
