package api

import (
	"net/http"
	"strconv"

	"x402-Dashboard/internal/agents"
	"x402-Dashboard/internal/config"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/market"
	"x402-Dashboard/internal/wallet"
	"x402-Dashboard/internal/web3"
)

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session.State())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.Session.Connect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session.Disconnect())
}

type homeResponse struct {
	Wallet    wallet.State         `json:"wallet"`
	Snapshot  web3.ChainSnapshot   `json:"snapshot"`
	Contracts homeContracts        `json:"contracts"`
	Services  []config.ServiceType `json:"service_types"`
}

type homeContracts struct {
	Agent          string `json:"agent,omitempty"`
	Service        string `json:"service,omitempty"`
	Market         string `json:"market,omitempty"`
	PaymentHandler string `json:"payment_handler,omitempty"`
}

// handleHome 链快照失败不影响页面其余部分，错误写入 notes。
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	resp := homeResponse{
		Wallet: s.svc.Session.State(),
		Contracts: homeContracts{
			Agent:          s.svc.Contracts.Agent,
			Service:        s.svc.Contracts.Service,
			Market:         s.svc.Contracts.Market,
			PaymentHandler: s.svc.Contracts.PaymentHandler,
		},
		Services: market.Types(),
	}
	if public := s.svc.Session.Public(); public != nil {
		snapshot, err := public.FetchChainSnapshot(r.Context())
		if err != nil {
			s.log.Warn("获取链快照失败", "error", err)
			snapshot.Notes = err.Error()
		}
		resp.Snapshot = snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Agents.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agents.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.svc.Agents.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAgentTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.Agents.Transactions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Agents.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	var (
		balance agents.Balance
		err     error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		balance, err = s.svc.Agents.RefreshBalance(r.Context(), address)
	} else {
		balance, err = s.svc.Agents.Balance(r.Context(), address)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req agents.DepositRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.AgentAddress = r.PathValue("address")
	result, err := s.svc.Agents.Deposit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	services, err := s.svc.Market.List(r.Context(), market.Filter{
		Type:   query.Get("service_type"),
		Search: query.Get("q"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleServiceDetail(w http.ResponseWriter, r *http.Request) {
	svc, err := s.svc.Market.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.Transactions.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.svc.Session.Address()
	if !ok {
		s.writeError(w, r, xerrors.New(xerrors.CodeWalletDisconnected, ""))
		return
	}
	if s.svc.Journal == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.svc.Journal.ListByAccount(r.Context(), owner.Hex(), limit)
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeStorageFailure, err, ""))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
