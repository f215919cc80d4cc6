// Package escrow implements the deferred payment state machine: paired
// ledger records, status transitions, recurring schedules and the
// settlement instructions that accompany them.
package escrow

import (
	"context"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
	"github.com/dmitrorezn/escrow-pay/internal/ledger"
	"github.com/dmitrorezn/escrow-pay/internal/token"
)

type Service struct {
	store  *ledger.Store
	tokens token.Client
	logger zerolog.Logger
}

func NewService(store *ledger.Store, tokens token.Client, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		logger: logger.With().Str("component", "escrow").Logger(),
	}
}

// InstallGenesis installs the contract configuration on first start and
// registers the fee and viewing-key tokens. A second call is a no-op so
// restarts are safe.
func (s *Service) InstallGenesis(cfg Config) (resp *Response, err error) {
	btx, closer, err := s.store.Write()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = closer(err)
	}()

	if _, loadErr := s.loadConfig(btx); loadErr == nil {
		return &Response{}, nil
	}
	if err = s.storeConfig(btx, cfg); err != nil {
		return nil, err
	}
	resp = &Response{}
	for _, tok := range []domain.TokenContract{cfg.FeeToken, cfg.ViewKeyToken} {
		ins, insErr := s.registerToken(btx, tok)
		if insErr != nil {
			err = insErr

			return nil, err
		}
		if ins != nil {
			resp.Instructions = append(resp.Instructions, *ins)
		}
	}

	return resp, nil
}

// Receive is the entrypoint for every operation that arrives bundled
// with a token transfer. The whole call, both halves of the pair
// included, runs in one writable storage transaction: any failure rolls
// every write back.
func (s *Service) Receive(ctx context.Context, env Env, from domain.Addr, amount uint64, msg ReceiveMsg) (resp *Response, err error) {
	btx, closer, err := s.store.Write()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = closer(err)
	}()

	cfg, err := s.loadConfig(btx)
	if err != nil {
		return nil, err
	}

	switch {
	case msg.Cancel != nil:
		resp, err = s.cancel(btx, cfg, env, from, amount, msg.Cancel)
	case msg.ConfirmAddress != nil:
		resp, err = s.confirmAddress(btx, cfg, env, from, amount, msg.ConfirmAddress)
	case msg.CreateSendRequest != nil:
		resp, err = s.createRequest(btx, cfg, env, from, amount, msg.CreateSendRequest, true)
	case msg.CreateReceiveRequest != nil:
		resp, err = s.createRequest(btx, cfg, env, from, amount, msg.CreateReceiveRequest, false)
	case msg.CreateRecurringSendRequest != nil:
		resp, err = s.createRecurringRequest(btx, cfg, env, from, amount, msg.CreateRecurringSendRequest, true)
	case msg.CreateRecurringReceiveRequest != nil:
		resp, err = s.createRecurringRequest(btx, cfg, env, from, amount, msg.CreateRecurringReceiveRequest, false)
	case msg.SendPayment != nil:
		resp, err = s.sendPayment(btx, cfg, env, from, amount, msg.SendPayment)
	case msg.FulfillRecurringPayment != nil:
		resp, err = s.fulfillRecurringPayment(btx, cfg, env, from, amount, msg.FulfillRecurringPayment)
	case msg.AcceptRecurringPayment != nil:
		resp, err = s.acceptRecurringPayment(btx, cfg, env, from, amount, msg.AcceptRecurringPayment)
	default:
		err = ErrUnknownReceiveMsg
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("from", string(from)).Msg("receive rejected")
	}

	return resp, err
}

// storePair appends the two mirrored halves of a new escrow pair, each
// under its participant's sequence, back-referencing each other by
// position.
func (s *Service) storePair(btx *bolt.Tx, env Env, cfg Config, from, to, creator domain.Addr, amount uint64, tok domain.TokenContract, description string, status domain.Status, class domain.TxClass) error {
	if from == to {
		return faults.SelfPaymentRejected(from)
	}
	fromPos := s.store.Len(btx, from)
	toPos := s.store.Len(btx, to)
	rec := &domain.Tx{
		Position:            fromPos,
		CounterpartPosition: toPos,
		Fee:                 cfg.Fee,
		From:                from,
		To:                  to,
		Creator:             creator,
		Amount:              amount,
		Token:               tok,
		Description:         description,
		Status:              status,
		BlockTime:           env.BlockTime,
		BlockHeight:         env.BlockHeight,
		Class:               class,
	}
	if _, err := s.store.Append(btx, from, rec); err != nil {
		return err
	}
	mirror := *rec
	mirror.Position, mirror.CounterpartPosition = toPos, fromPos
	if _, err := s.store.Append(btx, to, &mirror); err != nil {
		return err
	}

	return nil
}

// loadPair resolves a record under owner plus its mirror half through
// the counterpart position. The back-reference is a lookup key into the
// other participant's sequence, never a shared object.
func (s *Service) loadPair(btx *bolt.Tx, owner domain.Addr, position uint32) (rec, mir *domain.Tx, mirOwner domain.Addr, err error) {
	if rec, err = s.store.Get(btx, owner, position); err != nil {
		return nil, nil, "", err
	}
	mirOwner = rec.Mirror(owner)
	if mir, err = s.store.Get(btx, mirOwner, rec.CounterpartPosition); err != nil {
		return nil, nil, "", err
	}

	return rec, mir, mirOwner, nil
}

// writePair persists both halves after a transition. Called exactly
// once per operation so the halves never diverge.
func (s *Service) writePair(btx *bolt.Tx, owner domain.Addr, rec *domain.Tx, mirOwner domain.Addr, mir *domain.Tx) error {
	if err := s.store.Set(btx, owner, rec.Position, rec); err != nil {
		return err
	}

	return s.store.Set(btx, mirOwner, mir.Position, mir)
}

func (s *Service) createRequest(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *CreateRequestMsg, send bool) (*Response, error) {
	if err := correctFeePaid(amount, env.Sender, cfg); err != nil {
		return nil, err
	}
	resp := &Response{}
	ins, err := s.registerToken(btx, m.Token)
	if err != nil {
		return nil, err
	}
	if ins != nil {
		resp.Instructions = append(resp.Instructions, *ins)
	}
	// A send request waits for the receiver to confirm its address; a
	// receive request is created by the receiver, so it starts
	// confirmed.
	payer, payee, status := from, m.Address, domain.StatusPending
	if !send {
		payer, payee, status = m.Address, from, domain.StatusConfirmed
	}
	if err = s.storePair(btx, env, cfg, payer, payee, from, m.Amount, m.Token, m.Description, status, domain.Single{}); err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Service) createRecurringRequest(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *CreateRecurringRequestMsg, send bool) (*Response, error) {
	if err := correctFeePaid(amount, env.Sender, cfg); err != nil {
		return nil, err
	}
	if err := VerifyRecurringParameters(
		m.Amount, m.TotalAmount,
		m.StartTime, m.Interval, m.EndTime,
		env.BlockTime, cfg.EndTimeLimit,
	); err != nil {
		return nil, err
	}
	resp := &Response{}
	ins, err := s.registerToken(btx, m.Token)
	if err != nil {
		return nil, err
	}
	if ins != nil {
		resp.Instructions = append(resp.Instructions, *ins)
	}
	class := domain.Recurring{
		StartTime:        m.StartTime,
		Interval:         m.Interval,
		LastTimeBalanced: 0,
		EndTime:          m.EndTime,
		AllowanceEnabled: m.AllowanceEnabled,
	}
	payer, payee, status := from, m.Address, domain.StatusRecurringPending
	if !send {
		payer, payee, status = m.Address, from, domain.StatusRecurringActive
		// The receiver drives settlement on a receive-side agreement,
		// so allowance pulls are always on.
		class.AllowanceEnabled = true
	}
	if err = s.storePair(btx, env, cfg, payer, payee, from, m.Amount, m.Token, m.Description, status, class); err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *Service) confirmAddress(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *PositionMsg) (*Response, error) {
	if err := authorize(env.Sender, cfg.FeeToken.Address); err != nil {
		return nil, err
	}
	if err := zeroAmount(amount); err != nil {
		return nil, err
	}
	rec, mir, mirOwner, err := s.loadPair(btx, from, m.Position)
	if err != nil {
		return nil, err
	}
	if err = authorize(from, rec.To); err != nil {
		return nil, err
	}
	next := domain.StatusConfirmed
	ready := domain.StatusPending
	if _, recurring := rec.Recurring(); recurring {
		next, ready = domain.StatusRecurringActive, domain.StatusRecurringPending
	}
	if rec.Status != ready {
		return nil, faults.TxNotConfirmationReady(rec.Status)
	}
	rec.Status, mir.Status = next, next
	if err = s.writePair(btx, from, rec, mirOwner, mir); err != nil {
		return nil, err
	}

	return &Response{}, nil
}

func (s *Service) sendPayment(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *SendPaymentMsg) (*Response, error) {
	rec, mir, mirOwner, err := s.loadPair(btx, from, m.Position)
	if err != nil {
		return nil, err
	}
	if err = correctAmountOfToken(amount, mir.Amount, env.Sender, mir.Token.Address); err != nil {
		return nil, err
	}
	if err = authorize(from, mir.From); err != nil {
		return nil, err
	}
	if mir.Status != domain.StatusConfirmed {
		return nil, faults.TxNotConfirmed(mir.Status)
	}
	rec.Status, mir.Status = domain.StatusCompleted, domain.StatusCompleted
	if err = s.writePair(btx, from, rec, mirOwner, mir); err != nil {
		return nil, err
	}

	feeIns, err := transferInstruction(cfg.FeeToken, cfg.Treasury, rec.Fee)
	if err != nil {
		return nil, err
	}
	hash := m.ContractHash
	if hash == "" {
		hash = s.registeredHash(btx, rec.Token.Address)
	}
	payIns, err := transferInstruction(
		domain.TokenContract{Address: rec.Token.Address, CodeHash: hash},
		rec.To, rec.Amount,
	)
	if err != nil {
		return nil, err
	}

	return &Response{Instructions: []Instruction{feeIns, payIns}}, nil
}

func (s *Service) cancel(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *PositionMsg) (*Response, error) {
	if err := authorize(env.Sender, cfg.FeeToken.Address); err != nil {
		return nil, err
	}
	if err := zeroAmount(amount); err != nil {
		return nil, err
	}
	rec, mir, mirOwner, err := s.loadPair(btx, from, m.Position)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case domain.StatusCancelled:
		return nil, faults.TxAlreadyCancelled(m.Position)
	case domain.StatusCompleted:
		return nil, faults.TxAlreadyCompleted(m.Position)
	}
	rec.Status, mir.Status = domain.StatusCancelled, domain.StatusCancelled
	if err = s.writePair(btx, from, rec, mirOwner, mir); err != nil {
		return nil, err
	}

	// Only the fee was ever escrowed, so cancellation refunds the fee
	// to whoever created the request and moves no principal.
	refund, err := transferInstruction(cfg.FeeToken, rec.Creator, rec.Fee)
	if err != nil {
		return nil, err
	}

	return &Response{Instructions: []Instruction{refund}}, nil
}

// advancePair moves both halves of a recurring pair forward by one
// interval and completes the agreement when the final interval at the
// end time has been balanced. An interval only settles once the block
// time has reached it, so at most one interval is claimable per elapsed
// interval span. Returns the schedule as it stood before the advance.
func advancePair(rec, mir *domain.Tx, now uint64) (domain.Recurring, error) {
	r, ok := rec.Recurring()
	if !ok {
		return domain.Recurring{}, faults.TxNotRecurring(rec.Position)
	}
	due := nextDue(r)
	if now < due {
		return domain.Recurring{}, faults.TxNotYetDue(now, due)
	}
	advanced := r
	advanced.LastTimeBalanced = due
	rec.Class, mir.Class = advanced, advanced
	if due == r.EndTime {
		rec.Status, mir.Status = domain.StatusCompleted, domain.StatusCompleted
	}

	return r, nil
}

func (s *Service) fulfillRecurringPayment(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *PositionMsg) (*Response, error) {
	rec, mir, mirOwner, err := s.loadPair(btx, from, m.Position)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.Recurring(); !ok {
		return nil, faults.TxNotRecurring(m.Position)
	}
	if err = authorize(from, mir.From); err != nil {
		return nil, err
	}
	if mir.Status != domain.StatusRecurringActive {
		return nil, faults.TxNotConfirmed(mir.Status)
	}
	if err = correctAmountOfToken(amount, mir.Amount, env.Sender, mir.Token.Address); err != nil {
		return nil, err
	}
	if _, err = advancePair(rec, mir, env.BlockTime); err != nil {
		return nil, err
	}
	if err = s.writePair(btx, from, rec, mirOwner, mir); err != nil {
		return nil, err
	}

	payIns, err := transferInstruction(
		domain.TokenContract{Address: rec.Token.Address, CodeHash: s.registeredHash(btx, rec.Token.Address)},
		rec.To, rec.Amount,
	)
	if err != nil {
		return nil, err
	}

	return &Response{Instructions: []Instruction{payIns}}, nil
}

func (s *Service) acceptRecurringPayment(btx *bolt.Tx, cfg Config, env Env, from domain.Addr, amount uint64, m *PositionMsg) (*Response, error) {
	if err := authorize(env.Sender, cfg.FeeToken.Address); err != nil {
		return nil, err
	}
	if err := zeroAmount(amount); err != nil {
		return nil, err
	}
	rec, mir, mirOwner, err := s.loadPair(btx, from, m.Position)
	if err != nil {
		return nil, err
	}
	r, ok := rec.Recurring()
	if !ok {
		return nil, faults.TxNotRecurring(m.Position)
	}
	if err = authorize(from, mir.To); err != nil {
		return nil, err
	}
	// Receiver-side settlement pulls from the payer's allowance, which
	// only an allowance-enabled agreement permits.
	if !r.AllowanceEnabled {
		return nil, faults.Unauthorized()
	}
	if mir.Status != domain.StatusRecurringActive {
		return nil, faults.TxNotConfirmed(mir.Status)
	}
	if _, err = advancePair(rec, mir, env.BlockTime); err != nil {
		return nil, err
	}
	if err = s.writePair(btx, from, rec, mirOwner, mir); err != nil {
		return nil, err
	}

	pullIns, err := transferFromInstruction(
		domain.TokenContract{Address: rec.Token.Address, CodeHash: s.registeredHash(btx, rec.Token.Address)},
		rec.From, rec.To, rec.Amount,
	)
	if err != nil {
		return nil, err
	}

	return &Response{Instructions: []Instruction{pullIns}}, nil
}

// Handle is the entrypoint for the direct admin surface.
func (s *Service) Handle(ctx context.Context, env Env, msg HandleMsg) (resp *Response, err error) {
	btx, closer, err := s.store.Write()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = closer(err)
	}()

	cfg, err := s.loadConfig(btx)
	if err != nil {
		return nil, err
	}

	switch {
	case msg.NominateNewAdmin != nil:
		if err = authorize(env.Sender, cfg.Admin); err != nil {
			return nil, err
		}
		cfg.NewAdminNomination = msg.NominateNewAdmin.Address
		if err = s.storeConfig(btx, cfg); err != nil {
			return nil, err
		}
		resp = &Response{}
	case msg.AcceptNewAdminNomination != nil:
		if cfg.NewAdminNomination == "" {
			err = faults.Unauthorized()

			return nil, err
		}
		if err = authorize(env.Sender, cfg.NewAdminNomination); err != nil {
			return nil, err
		}
		cfg.Admin, cfg.NewAdminNomination = cfg.NewAdminNomination, ""
		if err = s.storeConfig(btx, cfg); err != nil {
			return nil, err
		}
		resp = &Response{}
	case msg.UpdateFee != nil:
		if err = authorize(env.Sender, cfg.Admin); err != nil {
			return nil, err
		}
		cfg.Fee = msg.UpdateFee.Fee
		if err = s.storeConfig(btx, cfg); err != nil {
			return nil, err
		}
		resp = &Response{}
	case msg.RegisterTokens != nil:
		if err = authorize(env.Sender, cfg.Admin); err != nil {
			return nil, err
		}
		resp = &Response{}
		for _, tok := range msg.RegisterTokens.Tokens {
			ins, insErr := s.registerToken(btx, tok)
			if insErr != nil {
				err = insErr

				return nil, err
			}
			if ins != nil {
				resp.Instructions = append(resp.Instructions, *ins)
			}
		}
	default:
		err = ErrUnknownHandleMsg

		return nil, err
	}

	return resp, nil
}

// Txs returns a page of the account's transaction history, most recent
// first. The caller proves authorization by presenting a viewing key
// the external viewing-key token accepts for the address.
func (s *Service) Txs(ctx context.Context, address domain.Addr, key string, page, pageSize uint32) (answer *TxsAnswer, err error) {
	btx, closer, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = closer(err)
	}()

	cfg, err := s.loadConfig(btx)
	if err != nil {
		return nil, err
	}
	if err = s.tokens.BalanceQuery(ctx, cfg.ViewKeyToken, address, key); err != nil {
		return nil, err
	}
	txs, total, err := s.store.List(btx, address, page, pageSize)
	if err != nil {
		return nil, err
	}

	return &TxsAnswer{Txs: txs, Total: total}, nil
}

// Config returns the current contract configuration and the registered
// token set.
func (s *Service) Config(ctx context.Context) (answer *ConfigAnswer, err error) {
	btx, closer, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = closer(err)
	}()

	cfg, err := s.loadConfig(btx)
	if err != nil {
		return nil, err
	}
	tokens, err := s.registeredTokens(btx)
	if err != nil {
		return nil, err
	}

	return &ConfigAnswer{
		Admin:              cfg.Admin,
		NewAdminNomination: cfg.NewAdminNomination,
		Fee:                cfg.Fee,
		FeeToken:           cfg.FeeToken,
		ViewKeyToken:       cfg.ViewKeyToken,
		Treasury:           cfg.Treasury,
		EndTimeLimit:       cfg.EndTimeLimit,
		RegisteredTokens:   tokens,
	}, nil
}
