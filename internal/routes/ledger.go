package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/school-funds/school_funds/internal/ledger"
)

// RegisterStudentRoutes wires student CRUD.
func RegisterStudentRoutes(r fiber.Router, h *ledger.Handler, admin fiber.Handler) {
	group := r.Group("/students", admin)
	group.Get("/", h.ListOwners(ledger.KindStudent))
	group.Post("/", h.CreateOwner(ledger.KindStudent))
	group.Get("/:id", h.GetOwner(ledger.KindStudent))
	group.Put("/:id", h.UpdateStudent)
	group.Delete("/:id", h.DeleteOwner(ledger.KindStudent))
}

// RegisterClassRoutes wires class CRUD. Classes are not editable once created.
func RegisterClassRoutes(r fiber.Router, h *ledger.Handler, admin fiber.Handler) {
	group := r.Group("/classes", admin)
	group.Get("/", h.ListOwners(ledger.KindClass))
	group.Post("/", h.CreateOwner(ledger.KindClass))
	group.Get("/:id", h.GetOwner(ledger.KindClass))
	group.Delete("/:id", h.DeleteOwner(ledger.KindClass))
}

// RegisterFundRoutes wires fund transactions for both owner kinds.
func RegisterFundRoutes(r fiber.Router, h *ledger.Handler, admin fiber.Handler) {
	for prefix, kind := range map[string]ledger.OwnerKind{
		"/student-funds": ledger.KindStudent,
		"/class-funds":   ledger.KindClass,
	} {
		group := r.Group(prefix, admin)
		group.Get("/", h.ListFunds(kind))
		group.Post("/", h.CreateFund(kind))
		group.Get("/:id", h.GetFund(kind))
		group.Put("/:id", h.UpdateFund(kind))
		group.Delete("/:id", h.DeleteFund(kind))
	}
}

// RegisterReportRoutes wires read-only reports and the balance audit.
func RegisterReportRoutes(r fiber.Router, h *ledger.Handler, reader, admin fiber.Handler) {
	reports := r.Group("/reports", reader)
	reports.Get("/student-funds", h.Report(ledger.KindStudent))
	reports.Get("/class-funds", h.Report(ledger.KindClass))

	r.Get("/ledger/audit", admin, h.Audit)
}
