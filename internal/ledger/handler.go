package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes owner, fund, report and audit endpoints for both owner kinds.
type Handler struct {
	service *Service
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ownerResponse struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	AccountBalance decimal.Decimal `json:"accountBalance"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toOwnerResponse(o Owner) ownerResponse {
	return ownerResponse{
		ID:             o.ID,
		Name:           o.Name,
		Email:          o.Email,
		AccountBalance: o.Balance,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type ownerRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// ListOwners returns every owner of kind.
func (h *Handler) ListOwners(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		owners, err := h.service.ListOwners(c.UserContext(), kind)
		if err != nil {
			return httpError(err)
		}
		out := make([]ownerResponse, 0, len(owners))
		for _, o := range owners {
			out = append(out, toOwnerResponse(o))
		}
		return c.JSON(out)
	}
}

// GetOwner returns one owner.
func (h *Handler) GetOwner(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		owner, err := h.service.GetOwner(c.UserContext(), kind, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(toOwnerResponse(owner))
	}
}

// CreateOwner registers a student or class with a zero balance.
func (h *Handler) CreateOwner(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ownerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var name, email string
		if req.Name != nil {
			name = *req.Name
		}
		if req.Email != nil && kind == KindStudent {
			email = *req.Email
		}
		owner, err := h.service.CreateOwner(c.UserContext(), kind, name, email)
		if err != nil {
			return httpError(err)
		}
		return c.Status(http.StatusCreated).JSON(toOwnerResponse(owner))
	}
}

// UpdateStudent edits a student's profile.
func (h *Handler) UpdateStudent(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req ownerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	owner, err := h.service.UpdateStudent(c.UserContext(), id, StudentPatch{Name: req.Name, Email: req.Email})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toOwnerResponse(owner))
}

// DeleteOwner removes an owner and its funds.
func (h *Handler) DeleteOwner(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		deleted, err := h.service.DeleteOwner(c.UserContext(), kind, id)
		if err != nil {
			return httpError(err)
		}
		if !deleted {
			return fiber.NewError(http.StatusNotFound, string(kind)+" not found")
		}
		return c.JSON(fiber.Map{"message": string(kind) + " deleted"})
	}
}

// fundRequest accepts either owner field; only the one matching the route's
// kind is read.
type fundRequest struct {
	StudentID *int64           `json:"studentId"`
	ClassID   *int64           `json:"classId"`
	Amount    *decimal.Decimal `json:"amount"`
	Type      *string          `json:"type"`
	Date      *string          `json:"date"`
	Reason    *string          `json:"reason"`
}

func (r fundRequest) ownerID(kind OwnerKind) *int64 {
	if kind == KindClass {
		return r.ClassID
	}
	return r.StudentID
}

// ListFunds returns funds, optionally narrowed by the studentId/classId query.
func (h *Handler) ListFunds(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		funds, err := h.listFunds(c, kind)
		if err != nil {
			return err
		}
		out := make([]fiber.Map, 0, len(funds))
		for _, f := range funds {
			out = append(out, fundBody(f))
		}
		return c.JSON(out)
	}
}

// Report lists funds like ListFunds and adds the owner's name to each row.
func (h *Handler) Report(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		funds, err := h.listFunds(c, kind)
		if err != nil {
			return err
		}
		owners, err := h.service.ListOwners(c.UserContext(), kind)
		if err != nil {
			return httpError(err)
		}
		names := make(map[int64]string, len(owners))
		for _, o := range owners {
			names[o.ID] = o.Name
		}
		out := make([]fiber.Map, 0, len(funds))
		for _, f := range funds {
			row := fundBody(f)
			name, ok := names[f.OwnerID]
			if !ok {
				name = "Unknown"
			}
			row[string(kind)+"Name"] = name
			out = append(out, row)
		}
		return c.JSON(out)
	}
}

func (h *Handler) listFunds(c *fiber.Ctx, kind OwnerKind) ([]Fund, error) {
	var filter FundFilter
	if raw := c.Query(ownerField(kind)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fiber.NewError(http.StatusBadRequest, "invalid "+ownerField(kind))
		}
		filter.OwnerID = &id
	}
	funds, err := h.service.ListFunds(c.UserContext(), kind, filter)
	if err != nil {
		return nil, httpError(err)
	}
	return funds, nil
}

// GetFund returns one fund.
func (h *Handler) GetFund(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		fund, err := h.service.GetFund(c.UserContext(), kind, id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fundBody(fund))
	}
}

// CreateFund records a fund and moves the owner's balance.
func (h *Handler) CreateFund(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req fundRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		ownerID := req.ownerID(kind)
		if ownerID == nil || *ownerID <= 0 {
			return fiber.NewError(http.StatusBadRequest, "valid "+ownerField(kind)+" is required")
		}
		if req.Amount == nil {
			return fiber.NewError(http.StatusBadRequest, "amount is required")
		}
		if req.Date == nil {
			return fiber.NewError(http.StatusBadRequest, "valid date is required")
		}
		date, err := parseDate(*req.Date)
		if err != nil {
			return err
		}
		in := NewFund{OwnerID: *ownerID, Amount: *req.Amount, Date: date, Reason: req.Reason}
		if req.Type != nil {
			in.Kind = FundKind(*req.Type)
		}

		fund, err := h.service.CreateFund(c.UserContext(), kind, in)
		if err != nil {
			return httpError(err)
		}
		return c.Status(http.StatusCreated).JSON(fundBody(fund))
	}
}

// UpdateFund applies a partial update to a fund.
func (h *Handler) UpdateFund(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		var req fundRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		patch := FundPatch{OwnerID: req.ownerID(kind), Amount: req.Amount, Reason: req.Reason}
		if req.Type != nil {
			fk := FundKind(*req.Type)
			patch.Kind = &fk
		}
		if req.Date != nil {
			date, err := parseDate(*req.Date)
			if err != nil {
				return err
			}
			patch.Date = &date
		}

		fund, err := h.service.UpdateFund(c.UserContext(), kind, id, patch)
		if err != nil {
			return httpError(err)
		}
		if fund == nil {
			return fiber.NewError(http.StatusNotFound, "fund transaction not found")
		}
		return c.JSON(fundBody(*fund))
	}
}

// DeleteFund removes a fund and reverses its balance effect.
func (h *Handler) DeleteFund(kind OwnerKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		deleted, err := h.service.DeleteFund(c.UserContext(), kind, id)
		if err != nil {
			return httpError(err)
		}
		if !deleted {
			return fiber.NewError(http.StatusNotFound, "fund transaction not found")
		}
		return c.JSON(fiber.Map{"message": "fund transaction deleted"})
	}
}

type driftResponse struct {
	OwnerID  int64           `json:"ownerId"`
	Balance  decimal.Decimal `json:"accountBalance"`
	Expected decimal.Decimal `json:"expectedBalance"`
}

// Audit reports owners whose balance disagrees with their funds. The kind
// query narrows the check to students or classes.
func (h *Handler) Audit(c *fiber.Ctx) error {
	kinds := []OwnerKind{KindStudent, KindClass}
	if raw := c.Query("kind"); raw != "" {
		kind := OwnerKind(raw)
		if !kind.Valid() {
			return fiber.NewError(http.StatusBadRequest, "kind must be student or class")
		}
		kinds = []OwnerKind{kind}
	}

	report := fiber.Map{}
	consistent := true
	for _, kind := range kinds {
		drifts, err := h.service.Audit(c.UserContext(), kind)
		if err != nil {
			return httpError(err)
		}
		rows := make([]driftResponse, 0, len(drifts))
		for _, d := range drifts {
			rows = append(rows, driftResponse{OwnerID: d.OwnerID, Balance: d.Balance, Expected: d.Expected})
		}
		consistent = consistent && len(rows) == 0
		report[string(kind)] = rows
	}
	report["consistent"] = consistent
	return c.JSON(report)
}

func fundBody(f Fund) fiber.Map {
	body := fiber.Map{
		"id":        f.ID,
		"amount":    f.Amount,
		"type":      f.Kind,
		"date":      f.Date.Format(time.DateOnly),
		"reason":    f.Reason,
		"createdAt": f.CreatedAt,
	}
	body[ownerField(f.OwnerKind)] = f.OwnerID
	return body
}

func ownerField(kind OwnerKind) string {
	if kind == KindClass {
		return "classId"
	}
	return "studentId"
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fiber.NewError(http.StatusBadRequest, "valid date is required")
}

// httpError maps ledger sentinels onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
