package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"accessgate/internal/approval/handler/mocks"
	"accessgate/internal/approval/models"
	"accessgate/internal/approval/service"
	"accessgate/internal/approval/store"
	"accessgate/internal/resource"
	id "accessgate/pkg/domain"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/platform/httputil"
	adminmw "accessgate/pkg/platform/middleware/admin"
	authmw "accessgate/pkg/platform/middleware/auth"
	"accessgate/pkg/platform/middleware/requesttime"
	"accessgate/pkg/testutil"
)

const adminToken = "test-admin-token"

func newRouter(svc Service) http.Handler {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Use(requesttime.Middleware)
	r.Use(adminmw.RequireAdminToken(adminToken, logger))
	r.Use(authmw.RequireActor(logger))
	New(svc, logger).Register(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(router, testutil.NewAdminRequest(t, method, path, adminToken, actor, body))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	return *testutil.UnmarshalResponse[httputil.ErrorResponse](t, rr)
}

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.router = newRouter(s.service)
}

func (s *HandlerSuite) TestCreate() {
	s.Run("passes caller and command through", func() {
		created := &models.ApprovalRequest{ID: id.NewApprovalID(), RequestedBy: "staff-1", Status: models.StatusPending}
		s.service.EXPECT().
			Create(gomock.Any(), models.Caller{ID: "staff-1"}, service.CreateCommand{
				ApprovalType:  models.TypeStudentDataDrilldown,
				TargetType:    models.TargetStudent,
				TargetID:      "stu-1",
				Justification: "welfare review",
			}).
			Return(created, nil)

		rr := doRequest(s.T(), s.router, http.MethodPost, "/admin/approvals/requests", "staff-1", CreateRequest{
			ApprovalType:  "student_data_drilldown",
			TargetType:    "student",
			TargetID:      "stu-1",
			Justification: "welfare review",
		})

		s.Equal(http.StatusCreated, rr.Code)
		var got models.ApprovalRequest
		s.Require().NoError(json.NewDecoder(rr.Body).Decode(&got))
		s.Equal(created.ID, got.ID)
	})

	s.Run("malformed body is a bad request", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/admin/approvals/requests", "{")
		req.Header.Set(testutil.HeaderAdminToken, adminToken)
		req.Header.Set(authmw.HeaderActorID, "staff-1")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("duplicate pending request maps to conflict", func() {
		s.service.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeDuplicateRequest, "pending request exists"))

		rr := doRequest(s.T(), s.router, http.MethodPost, "/admin/approvals/requests", "staff-1", CreateRequest{TargetID: "stu-1"})

		s.Equal(http.StatusConflict, rr.Code)
		s.Equal("duplicate_request", decodeError(s.T(), rr).Error)
	})
}

func (s *HandlerSuite) TestRequestIDParsing() {
	rr := doRequest(s.T(), s.router, http.MethodGet, "/admin/approvals/requests/not-a-uuid", "admin-a", nil)

	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *HandlerSuite) TestMissingHeaders() {
	s.Run("no actor", func() {
		rr := doRequest(s.T(), s.router, http.MethodGet, "/admin/approvals/stats", "", nil)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("no admin token", func() {
		req := httptest.NewRequest(http.MethodGet, "/admin/approvals/stats", nil)
		req.Header.Set(authmw.HeaderActorID, "admin-a")
		rr := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})
}

func (s *HandlerSuite) TestCallerComesFromContext() {
	bare := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Register(bare)

	s.Run("no actor in context", func() {
		rr := testutil.DoRequest(bare, httptest.NewRequest(http.MethodGet, "/admin/approvals/stats", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("super admin flag is forwarded", func() {
		s.service.EXPECT().Stats(gomock.Any(), models.Caller{ID: "root", SuperAdmin: true}).
			Return(models.NewStats(), nil)

		req := testutil.WithActor(httptest.NewRequest(http.MethodGet, "/admin/approvals/stats", nil), "root", true)
		rr := testutil.DoRequest(bare, req)
		s.Equal(http.StatusOK, rr.Code)
	})
}

func (s *HandlerSuite) TestApproveAndReject() {
	requestID := id.NewApprovalID()

	s.Run("approve forwards comments", func() {
		s.service.EXPECT().
			Approve(gomock.Any(), models.Caller{ID: "admin-a"}, requestID, "looks fine").
			Return(&models.ApprovalRequest{ID: requestID, Status: models.StatusPending}, nil)

		rr := doRequest(s.T(), s.router, http.MethodPut, "/admin/approvals/requests/"+requestID.String()+"/approve", "admin-a",
			ApproveRequest{Comments: "looks fine"})
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("approve without body", func() {
		s.service.EXPECT().
			Approve(gomock.Any(), models.Caller{ID: "admin-a"}, requestID, "").
			Return(&models.ApprovalRequest{ID: requestID}, nil)

		rr := doRequest(s.T(), s.router, http.MethodPut, "/admin/approvals/requests/"+requestID.String()+"/approve", "admin-a", nil)
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("domain errors map to status codes", func() {
		cases := []struct {
			code   dErrors.Code
			status int
		}{
			{dErrors.CodeDuplicateApproval, http.StatusConflict},
			{dErrors.CodeAlreadyFinalized, http.StatusConflict},
			{dErrors.CodeExpired, http.StatusGone},
			{dErrors.CodeForbidden, http.StatusForbidden},
			{dErrors.CodeNotFound, http.StatusNotFound},
		}
		for _, tc := range cases {
			s.service.EXPECT().Reject(gomock.Any(), gomock.Any(), requestID, "no").
				Return(nil, dErrors.New(tc.code, "nope"))

			rr := doRequest(s.T(), s.router, http.MethodPut, "/admin/approvals/requests/"+requestID.String()+"/reject", "admin-a",
				RejectRequest{Reason: "no"})
			s.Equal(tc.status, rr.Code, string(tc.code))
		}
	})
}

func (s *HandlerSuite) TestInternalErrorsHideDetail() {
	s.service.EXPECT().Stats(gomock.Any(), gomock.Any()).
		Return(models.Stats{}, dErrors.New(dErrors.CodeInternal, "db exploded at 10.0.0.5"))

	rr := doRequest(s.T(), s.router, http.MethodGet, "/admin/approvals/stats", "admin-a", nil)

	s.Equal(http.StatusInternalServerError, rr.Code)
	s.NotContains(rr.Body.String(), "10.0.0.5")
}

func (s *HandlerSuite) TestListQuery() {
	s.service.EXPECT().
		List(gomock.Any(), models.Caller{ID: "admin-a"}, models.ListFilter{
			Status:       models.StatusPending,
			RequestedBy:  "staff-1",
			ApprovalType: models.TypeExportData,
			ApprovedBy:   "admin-b",
		}).
		Return([]*models.ApprovalRequest{{ID: id.NewApprovalID()}}, nil)

	rr := doRequest(s.T(), s.router, http.MethodGet,
		"/admin/approvals/requests?status=pending&requestedBy=staff-1&approvalType=export_data&approvedBy=admin-b", "admin-a", nil)

	s.Require().Equal(http.StatusOK, rr.Code)
	var body ListResponse
	s.Require().NoError(json.NewDecoder(rr.Body).Decode(&body))
	s.Equal(1, body.Count)
}

// End-to-end over the real service: two approvals unlock filtered access.
func TestHandler_DualAuthorizationFlow(t *testing.T) {
	resources := resource.NewMemoryProvider()
	resources.Put(models.TargetStudent, "stu-42", map[string]any{
		"name":  "Ada",
		"grade": 7,
		"email": "ada@example.org",
	})
	svc := service.New(store.NewInMemoryStore(), resources,
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	router := newRouter(svc)

	rr := doRequest(t, router, http.MethodPost, "/admin/approvals/requests", "staff-1", CreateRequest{
		ApprovalType:  "student_data_drilldown",
		TargetType:    "student",
		TargetID:      "stu-42",
		Justification: "safeguarding follow-up",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.ApprovalRequest
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	base := "/admin/approvals/requests/" + created.ID.String()

	rr = doRequest(t, router, http.MethodPost, base+"/access", "staff-1", AccessRequest{Fields: []string{"name"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "access_denied", decodeError(t, rr).Error)

	rr = doRequest(t, router, http.MethodPut, base+"/approve", "staff-1", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "requester cannot approve own request")

	rr = doRequest(t, router, http.MethodPut, base+"/approve", "admin-a", ApproveRequest{Comments: "ok"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, router, http.MethodPut, base+"/approve", "admin-a", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "duplicate_approval", decodeError(t, rr).Error)

	rr = doRequest(t, router, http.MethodPut, base+"/approve", "admin-b", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var approved models.ApprovalRequest
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&approved))
	assert.Equal(t, models.StatusApproved, approved.Status)

	rr = doRequest(t, router, http.MethodPost, base+"/access", "staff-1", AccessRequest{Fields: []string{"name", "grade"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var access AccessResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&access))
	assert.Equal(t, map[string]any{"name": "Ada", "grade": float64(7)}, access.Data)
	assert.ElementsMatch(t, []string{"admin-a", "admin-b"}, access.Approval.ApprovedBy)
	assert.WithinDuration(t, time.Now(), access.Approval.AccessedAt, time.Minute)

	rr = doRequest(t, router, http.MethodGet, base, "someone-else", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/admin/approvals/stats", "staff-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats models.Stats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusApproved])
}
