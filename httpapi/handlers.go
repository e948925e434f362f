package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"orderflow/approval"
	"orderflow/auth"
	"orderflow/handoff"
	"orderflow/order"
	"orderflow/settlement"
)

// bind decodes and validates a JSON body. A missing body is decoded into the
// zero value so optional-body endpoints can share it.
func (s *Server) bind(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		defer r.Body.Close()
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return err
		}
	}
	return s.validate.Struct(dst)
}

func (s *Server) actor(r *http.Request) (auth.Identity, bool) {
	return identityFrom(r.Context())
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) transitionHandler(trigger order.Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.actor(r)
		if !ok {
			s.writeError(w, auth.ErrInvalidToken, "")
			return
		}
		var body cancelRequest
		if err := s.bind(r, &body); err != nil {
			s.writeValidationError(w, "malformed request body")
			return
		}
		ord, err := s.orders.Transition(r.Context(), order.TransitionParams{
			OrderID: mux.Vars(r)["id"],
			Trigger: trigger,
			Actor:   actor,
			Reason:  body.Reason,
		})
		if err != nil {
			s.writeError(w, err, currentStatus(s, r))
			return
		}
		writeJSON(w, http.StatusOK, orderResponse(ord))
	}
}

func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(order.TriggerConfirm)(w, r)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(order.TriggerCancel)(w, r)
}

func (s *Server) handleStartPickup(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(order.TriggerStartPickup)(w, r)
}

func (s *Server) handleArriveAtSite(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(order.TriggerArriveSite)(w, r)
}

func (s *Server) handleStartDelivery(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(order.TriggerStartDelivery)(w, r)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(ord))
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orders.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(r)
	if !ok {
		s.writeError(w, auth.ErrInvalidToken, "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := s.orders.ListAvailable(r.Context(), actor, limit)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	out := make([]map[string]any, 0, len(orders))
	for _, ord := range orders {
		out = append(out, orderResponse(ord))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) handleClaimOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(r)
	if !ok {
		s.writeError(w, auth.ErrInvalidToken, "")
		return
	}
	ord, err := s.orders.Claim(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeError(w, err, currentStatus(s, r))
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(ord))
}

func (s *Server) issueHandler(stage handoff.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.actor(r)
		if !ok {
			s.writeError(w, auth.ErrInvalidToken, "")
			return
		}
		issued, err := s.handoffs.IssueCode(r.Context(), handoff.IssueParams{
			OrderID: mux.Vars(r)["id"],
			Stage:   stage,
			Actor:   actor,
		})
		if err != nil {
			s.writeError(w, err, currentStatus(s, r))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"code":       issued.Value,
			"stage":      issued.Stage,
			"expires_at": issued.ExpiresAt,
		})
	}
}

type verifyRequest struct {
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Evidence *struct {
		Method string `json:"method" validate:"omitempty,oneof=photo signature"`
		Data   string `json:"data"`
		Notes  string `json:"notes" validate:"max=1000"`
	} `json:"evidence"`
}

func (s *Server) verifyHandler(stage handoff.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.actor(r)
		if !ok {
			s.writeError(w, auth.ErrInvalidToken, "")
			return
		}
		var body verifyRequest
		if err := s.bind(r, &body); err != nil {
			if _, ok := err.(validator.ValidationErrors); ok {
				s.writeValidationError(w, "code must be a 6-digit value")
				return
			}
			s.writeValidationError(w, "malformed request body")
			return
		}

		params := handoff.VerifyParams{
			OrderID: mux.Vars(r)["id"],
			Stage:   stage,
			Value:   body.Code,
			Actor:   actor,
		}
		if body.Evidence != nil {
			params.Evidence = &handoff.EvidenceInput{
				Method: handoff.EvidenceMethod(body.Evidence.Method),
				Data:   body.Evidence.Data,
				Notes:  body.Evidence.Notes,
			}
		}

		res, err := s.handoffs.Verify(r.Context(), params)
		if err != nil {
			s.writeError(w, err, currentStatus(s, r))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"order": orderResponse(res.Order),
			"stage": res.Stage,
		})
	}
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	evidence, err := s.handoffs.ListEvidence(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": evidence})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(r)
	if !ok {
		s.writeError(w, auth.ErrInvalidToken, "")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	requests, err := s.approvals.ListPending(r.Context(), actor, approval.ListFilter{
		OrderID:  q.Get("order_id"),
		Category: settlement.Category(q.Get("category")),
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

type decideRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (s *Server) decideHandler(decision approval.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.actor(r)
		if !ok {
			s.writeError(w, auth.ErrInvalidToken, "")
			return
		}
		var body decideRequest
		if err := s.bind(r, &body); err != nil {
			s.writeValidationError(w, "malformed request body")
			return
		}
		req, err := s.approvals.Decide(r.Context(), approval.DecideParams{
			RequestID: mux.Vars(r)["id"],
			Decision:  decision,
			Actor:     actor,
			Notes:     body.Notes,
		})
		if err != nil {
			s.writeError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": req})
	}
}

// currentStatus surfaces the order's committed status on state errors so
// clients can resynchronize.
func currentStatus(s *Server, r *http.Request) string {
	id := mux.Vars(r)["id"]
	if id == "" {
		return ""
	}
	ord, err := s.orders.Get(r.Context(), id)
	if err != nil {
		return ""
	}
	return string(ord.Status)
}

func orderResponse(ord order.Order) map[string]any {
	out := map[string]any{
		"id":              ord.ID,
		"buyer_id":        ord.BuyerID,
		"seller_id":       ord.SellerID,
		"delivery_method": ord.DeliveryMethod,
		"total_amount":    ord.TotalAmount,
		"status":          ord.Status,
		"version":         ord.Version,
		"seller_payout":   ord.SellerPayoutStatus,
		"agent_payout":    ord.AgentCommissionStatus,
		"created_at":      ord.CreatedAt,
		"updated_at":      ord.UpdatedAt,
	}
	if ord.AssignedAgentID != nil {
		out["assigned_agent_id"] = *ord.AssignedAgentID
	}
	if ord.AgentRole != nil {
		out["agent_role"] = *ord.AgentRole
	}
	return out
}
