package escrow

import (
	"bytes"
	"encoding/gob"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
)

// Config is the contract configuration singleton. It is loaded once at
// the start of every call from its own bucket and persisted back after
// mutation within the same transaction.
type Config struct {
	Admin              domain.Addr
	NewAdminNomination domain.Addr
	Fee                uint64
	FeeToken           domain.TokenContract
	ViewKeyToken       domain.TokenContract
	Treasury           domain.Addr
	EndTimeLimit       uint64
}

var configKey = []byte("config")

var ErrNoConfig = errors.New("contract config not installed")

func (s *Service) loadConfig(btx *bolt.Tx) (Config, error) {
	v := s.store.Config(btx).Get(configKey)
	if v == nil {
		return Config{}, ErrNoConfig
	}
	var cfg Config
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "Decode")
	}

	return cfg, nil
}

func (s *Service) storeConfig(btx *bolt.Tx, cfg Config) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "Encode")
	}

	return errors.Wrap(s.store.Config(btx).Put(configKey, buf.Bytes()), "Put")
}

// registerToken records the token's code hash on first sight and
// returns a register-receive instruction for it, or nothing when the
// token is already known.
func (s *Service) registerToken(btx *bolt.Tx, token domain.TokenContract) (*Instruction, error) {
	b := s.store.RegisteredTokens(btx)
	if b.Get([]byte(token.Address)) != nil {
		return nil, nil
	}
	if err := b.Put([]byte(token.Address), []byte(token.CodeHash)); err != nil {
		return nil, errors.Wrap(err, "Put")
	}
	ins, err := registerReceiveInstruction(token)
	if err != nil {
		return nil, err
	}

	return &ins, nil
}

func (s *Service) registeredHash(btx *bolt.Tx, address domain.Addr) string {
	return string(s.store.RegisteredTokens(btx).Get([]byte(address)))
}

func (s *Service) registeredTokens(btx *bolt.Tx) ([]domain.TokenContract, error) {
	tokens := make([]domain.TokenContract, 0)
	err := s.store.RegisteredTokens(btx).ForEach(func(k, v []byte) error {
		tokens = append(tokens, domain.TokenContract{
			Address:  domain.Addr(k),
			CodeHash: string(v),
		})

		return nil
	})

	return tokens, err
}
