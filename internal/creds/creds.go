// Package creds stores each user's vendor session cookies, encrypted at
// rest.
package creds

import (
	"context"
	"encoding/json"

	"github.com/ResDream/TJU-vfmc-ticket/internal/crypto"
	"github.com/ResDream/TJU-vfmc-ticket/internal/db"
	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewStore(d *db.DB, aead *crypto.AEAD) *Store {
	return &Store{db: d, aead: aead}
}

func (s *Store) Save(ctx context.Context, userID int64, c vfmc.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ct, err := s.aead.EncryptToString(b)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO vendor_credentials(user_id, ciphertext, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (user_id) DO UPDATE SET ciphertext=EXCLUDED.ciphertext, updated_at=now()`,
		userID, ct)
}

func (s *Store) Get(ctx context.Context, userID int64) (vfmc.Credentials, error) {
	var ct string
	err := s.db.QueryRow(ctx, `SELECT ciphertext FROM vendor_credentials WHERE user_id=$1`, userID).Scan(&ct)
	if err != nil {
		return vfmc.Credentials{}, db.WrapNotFound(err)
	}
	pt, err := s.aead.DecryptString(ct)
	if err != nil {
		return vfmc.Credentials{}, err
	}
	var c vfmc.Credentials
	if err := json.Unmarshal(pt, &c); err != nil {
		return vfmc.Credentials{}, err
	}
	return c, nil
}

func (s *Store) Has(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vendor_credentials WHERE user_id=$1)`, userID).Scan(&exists)
	return exists, err
}
