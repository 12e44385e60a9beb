package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"accounts/internal/models"
)

// ReplaceSkills swaps the user's skill list for skills, keeping their order.
func (s *Store) ReplaceSkills(ctx context.Context, userID string, skills []models.Skill) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM user_skills WHERE user_id=?`, userID); err != nil {
		return err
	}
	for i, sk := range skills {
		if _, err := s.conn.ExecContext(ctx,
			`INSERT INTO user_skills(user_id,name,proficiency,position) VALUES(?,?,?,?)`,
			userID, sk.Name, sk.Proficiency, i,
		); err != nil {
			return mapConstraintErr(err)
		}
	}
	return nil
}

func (s *Store) ListSkills(ctx context.Context, userID string) ([]models.Skill, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name,proficiency FROM user_skills WHERE user_id=? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Skill{}
	for rows.Next() {
		var sk models.Skill
		if err := rows.Scan(&sk.Name, &sk.Proficiency); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceLinks(ctx context.Context, userID string, links []models.Link) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM user_links WHERE user_id=?`, userID); err != nil {
		return err
	}
	for i, l := range links {
		if _, err := s.conn.ExecContext(ctx,
			`INSERT INTO user_links(user_id,anchor,url,brand_id,position) VALUES(?,?,?,?,?)`,
			userID, l.Anchor, l.URL, l.BrandID, i,
		); err != nil {
			return mapConstraintErr(err)
		}
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context, userID string) ([]models.Link, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT anchor,url,brand_id FROM user_links WHERE user_id=? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Link{}
	for rows.Next() {
		var l models.Link
		var brand *string
		if err := rows.Scan(&l.Anchor, &l.URL, &brand); err != nil {
			return nil, err
		}
		l.BrandID = brand
		out = append(out, l)
	}
	return out, rows.Err()
}

// UserLink is a link row together with its owner.
type UserLink struct {
	UserID string
	URL    string
}

func (s *Store) ListUnbrandedLinks(ctx context.Context) ([]UserLink, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT user_id,url FROM user_links WHERE brand_id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserLink
	for rows.Next() {
		var l UserLink
		if err := rows.Scan(&l.UserID, &l.URL); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) SetLinkBrand(ctx context.Context, userID, url, brandID string) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE user_links SET brand_id=? WHERE user_id=? AND url=?`, brandID, userID, url)
	return err
}

func (s *Store) ListLinkBrands(ctx context.Context) ([]models.LinkBrand, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id,name,domain,icon FROM link_brands ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.LinkBrand{}
	for rows.Next() {
		var b models.LinkBrand
		if err := rows.Scan(&b.ID, &b.Name, &b.Domain, &b.Icon); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreateLinkBrand(ctx context.Context, b models.LinkBrand) (models.LinkBrand, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Domain = strings.ToLower(strings.TrimSpace(b.Domain))
	_, err := s.conn.ExecContext(ctx, `INSERT INTO link_brands(id,name,domain,icon) VALUES(?,?,?,?)`, b.ID, b.Name, b.Domain, b.Icon)
	if err != nil {
		return models.LinkBrand{}, mapConstraintErr(err)
	}
	return b, nil
}
