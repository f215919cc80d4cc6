package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/escrow"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
	"github.com/dmitrorezn/escrow-pay/internal/outbox"
)

// receiveRequest mimics the receive notification a token contract posts
// after transferring tokens to this contract.
type receiveRequest struct {
	Token       domain.Addr       `json:"token"`
	From        domain.Addr       `json:"from"`
	Amount      uint64            `json:"amount"`
	BlockTime   uint64            `json:"block_time"`
	BlockHeight uint64            `json:"block_height"`
	Msg         escrow.ReceiveMsg `json:"msg"`
}

type handleRequest struct {
	Sender      domain.Addr      `json:"sender"`
	BlockTime   uint64           `json:"block_time"`
	BlockHeight uint64           `json:"block_height"`
	Msg         escrow.HandleMsg `json:"msg"`
}

func writeErr(writer http.ResponseWriter, err error) {
	var detailed *faults.Detailed
	if errors.As(err, &detailed) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(writer).Encode(detailed)

		return
	}
	http.Error(writer, err.Error(), http.StatusBadRequest)
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(v)
}

func receive(svc *escrow.Service, box *outbox.Outbox) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		var req receiveRequest
		if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)

			return
		}
		env := escrow.Env{
			Sender:      req.Token,
			BlockTime:   req.BlockTime,
			BlockHeight: req.BlockHeight,
		}
		resp, err := svc.Receive(request.Context(), env, req.From, req.Amount, req.Msg)
		if err != nil {
			writeErr(writer, err)

			return
		}
		if err = box.Add(request.Context(), resp.Instructions...); err != nil {
			writeErr(writer, err)

			return
		}

		writeJSON(writer, resp)
	}
}

func handle(svc *escrow.Service, box *outbox.Outbox) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		var req handleRequest
		if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)

			return
		}
		env := escrow.Env{
			Sender:      req.Sender,
			BlockTime:   req.BlockTime,
			BlockHeight: req.BlockHeight,
		}
		resp, err := svc.Handle(request.Context(), env, req.Msg)
		if err != nil {
			writeErr(writer, err)

			return
		}
		if err = box.Add(request.Context(), resp.Instructions...); err != nil {
			writeErr(writer, err)

			return
		}

		writeJSON(writer, resp)
	}
}

func txs(svc *escrow.Service) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		q := request.URL.Query()
		page, err := strconv.ParseUint(q.Get("page"), 10, 32)
		if err != nil && q.Get("page") != "" {
			http.Error(writer, err.Error(), http.StatusBadRequest)

			return
		}
		pageSize, err := strconv.ParseUint(q.Get("page_size"), 10, 32)
		if err != nil {
			http.Error(writer, "page_size is required", http.StatusBadRequest)

			return
		}
		answer, err := svc.Txs(
			request.Context(),
			domain.Addr(q.Get("address")),
			q.Get("key"),
			uint32(page),
			uint32(pageSize),
		)
		if err != nil {
			writeErr(writer, err)

			return
		}

		writeJSON(writer, answer)
	}
}

func configQuery(svc *escrow.Service) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		answer, err := svc.Config(request.Context())
		if err != nil {
			writeErr(writer, err)

			return
		}

		writeJSON(writer, answer)
	}
}
