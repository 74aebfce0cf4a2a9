package ledger

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/school-funds/school_funds/internal/apierr"
	"github.com/school-funds/school_funds/internal/logging"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	h := NewHandler(NewService(NewInMemory(), nil, nil))
	app := fiber.New(fiber.Config{ErrorHandler: apierr.Handler(logging.Discard())})

	app.Get("/students", h.ListOwners(KindStudent))
	app.Post("/students", h.CreateOwner(KindStudent))
	app.Get("/students/:id", h.GetOwner(KindStudent))
	app.Put("/students/:id", h.UpdateStudent)
	app.Delete("/students/:id", h.DeleteOwner(KindStudent))
	app.Post("/classes", h.CreateOwner(KindClass))
	app.Get("/classes/:id", h.GetOwner(KindClass))
	app.Get("/student-funds", h.ListFunds(KindStudent))
	app.Post("/student-funds", h.CreateFund(KindStudent))
	app.Put("/student-funds/:id", h.UpdateFund(KindStudent))
	app.Delete("/student-funds/:id", h.DeleteFund(KindStudent))
	app.Post("/class-funds", h.CreateFund(KindClass))
	app.Get("/reports/student-funds", h.Report(KindStudent))
	app.Get("/ledger/audit", h.Audit)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type ownerJSON struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	AccountBalance string `json:"accountBalance"`
}

type fundJSON struct {
	ID          int64  `json:"id"`
	StudentID   int64  `json:"studentId"`
	ClassID     int64  `json:"classId"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Date        string `json:"date"`
	StudentName string `json:"studentName"`
}

func studentBalance(t *testing.T, app *fiber.App, id int64) string {
	t.Helper()
	var owner ownerJSON
	if status := do(t, app, fiber.MethodGet, "/students/"+jsonInt(id), "", &owner); status != fiber.StatusOK {
		t.Fatalf("get student: status %d", status)
	}
	return owner.AccountBalance
}

func jsonInt(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHandlerFundLifecycle(t *testing.T) {
	app := newTestApp(t)

	var ada, brian ownerJSON
	if status := do(t, app, fiber.MethodPost, "/students", `{"name":"Ada","email":"ada@school.test"}`, &ada); status != fiber.StatusCreated {
		t.Fatalf("create student: status %d", status)
	}
	do(t, app, fiber.MethodPost, "/students", `{"name":"Brian"}`, &brian)
	if ada.AccountBalance != "0" {
		t.Fatalf("expected zero opening balance, got %s", ada.AccountBalance)
	}

	var fund fundJSON
	status := do(t, app, fiber.MethodPost, "/student-funds",
		`{"studentId":`+jsonInt(ada.ID)+`,"amount":"50.25","type":"deposit","date":"2024-09-02","reason":"fees"}`, &fund)
	if status != fiber.StatusCreated {
		t.Fatalf("create fund: status %d", status)
	}
	if fund.StudentID != ada.ID || fund.Date != "2024-09-02" || fund.Type != "deposit" {
		t.Fatalf("unexpected fund: %+v", fund)
	}
	if got := studentBalance(t, app, ada.ID); got != "50.25" {
		t.Fatalf("expected 50.25 after deposit, got %s", got)
	}

	status = do(t, app, fiber.MethodPut, "/student-funds/"+jsonInt(fund.ID), `{"studentId":`+jsonInt(brian.ID)+`,"amount":20}`, &fund)
	if status != fiber.StatusOK {
		t.Fatalf("update fund: status %d", status)
	}
	if got := studentBalance(t, app, ada.ID); got != "0" {
		t.Fatalf("expected old owner back at 0, got %s", got)
	}
	if got := studentBalance(t, app, brian.ID); got != "20" {
		t.Fatalf("expected new owner at 20, got %s", got)
	}

	var report []fundJSON
	if status := do(t, app, fiber.MethodGet, "/reports/student-funds?studentId="+jsonInt(brian.ID), "", &report); status != fiber.StatusOK {
		t.Fatalf("report: status %d", status)
	}
	if len(report) != 1 || report[0].StudentName != "Brian" {
		t.Fatalf("unexpected report: %+v", report)
	}

	if status := do(t, app, fiber.MethodDelete, "/student-funds/"+jsonInt(fund.ID), "", nil); status != fiber.StatusOK {
		t.Fatalf("delete fund: status %d", status)
	}
	if got := studentBalance(t, app, brian.ID); got != "0" {
		t.Fatalf("expected reversal to 0, got %s", got)
	}
	if status := do(t, app, fiber.MethodDelete, "/student-funds/"+jsonInt(fund.ID), "", nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", status)
	}
	if status := do(t, app, fiber.MethodPut, "/student-funds/"+jsonInt(fund.ID), `{"amount":1}`, nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for update of missing fund, got %d", status)
	}

	var audit map[string]any
	do(t, app, fiber.MethodGet, "/ledger/audit", "", &audit)
	if audit["consistent"] != true {
		t.Fatalf("expected consistent audit, got %v", audit)
	}
}

func TestHandlerValidation(t *testing.T) {
	app := newTestApp(t)
	var ada ownerJSON
	do(t, app, fiber.MethodPost, "/students", `{"name":"Ada"}`, &ada)
	id := jsonInt(ada.ID)

	cases := []struct {
		name string
		body string
	}{
		{"missing owner", `{"amount":5,"type":"deposit","date":"2024-01-01"}`},
		{"zero amount", `{"studentId":` + id + `,"amount":0,"type":"deposit","date":"2024-01-01"}`},
		{"negative amount", `{"studentId":` + id + `,"amount":-3,"type":"deposit","date":"2024-01-01"}`},
		{"bad type", `{"studentId":` + id + `,"amount":5,"type":"refund","date":"2024-01-01"}`},
		{"missing type", `{"studentId":` + id + `,"amount":5,"date":"2024-01-01"}`},
		{"bad date", `{"studentId":` + id + `,"amount":5,"type":"deposit","date":"yesterday"}`},
		{"sub-cent amount", `{"studentId":` + id + `,"amount":"0.005","type":"deposit","date":"2024-01-01"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body apierr.Body
			if status := do(t, app, fiber.MethodPost, "/student-funds", tc.body, &body); status != fiber.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			if body.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}

	if got := studentBalance(t, app, ada.ID); got != "0" {
		t.Fatalf("rejected requests must not move the balance, got %s", got)
	}
	if status := do(t, app, fiber.MethodPost, "/student-funds", `{"studentId":999,"amount":5,"type":"deposit","date":"2024-01-01"}`, nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown student, got %d", status)
	}
	if status := do(t, app, fiber.MethodGet, "/students/abc", "", nil); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", status)
	}
	if status := do(t, app, fiber.MethodPost, "/students", `{"name":"Eve","email":"eve-at-school"}`, nil); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email, got %d", status)
	}
	if status := do(t, app, fiber.MethodPut, "/students/"+id, `{"email":"nope"}`, nil); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid email update, got %d", status)
	}
}

func TestHandlerClassFunds(t *testing.T) {
	app := newTestApp(t)
	var class ownerJSON
	if status := do(t, app, fiber.MethodPost, "/classes", `{"name":"P4 Blue"}`, &class); status != fiber.StatusCreated {
		t.Fatalf("create class: status %d", status)
	}
	if status := do(t, app, fiber.MethodPost, "/classes", `{"name":"P4 Blue"}`, nil); status != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate class, got %d", status)
	}

	var fund fundJSON
	status := do(t, app, fiber.MethodPost, "/class-funds", `{"classId":`+jsonInt(class.ID)+`,"amount":"12.5","date":"2024-09-02T08:30:00Z"}`, &fund)
	if status != fiber.StatusCreated {
		t.Fatalf("create class fund: status %d", status)
	}
	if fund.Type != "deposit" || fund.ClassID != class.ID || fund.Date != "2024-09-02" {
		t.Fatalf("unexpected class fund: %+v", fund)
	}

	var got ownerJSON
	do(t, app, fiber.MethodGet, "/classes/"+jsonInt(class.ID), "", &got)
	if got.AccountBalance != "12.5" {
		t.Fatalf("expected 12.5, got %s", got.AccountBalance)
	}
}
