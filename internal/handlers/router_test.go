package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository/memrepo"
	"github.com/school-system/exams/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenTable maps bearer tokens straight to claims.
type tokenTable map[string]*services.Claims

func (t tokenTable) VerifyToken(token string) (*services.Claims, error) {
	if c, ok := t[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

type apiFixture struct {
	router  *gin.Engine
	store   *memrepo.Store
	relay   *services.AuditRelay
	school  uuid.UUID
	mathID  uuid.UUID
	student uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memrepo.New()
	school := uuid.New()
	tokens := tokenTable{}
	for token, role := range map[string]string{"admin": "school_admin", "teacher": "teacher", "classteacher": "class_teacher"} {
		u := store.AddUser(models.User{SchoolID: &school, Role: role, FullName: token, IsActive: true})
		tokens[token] = &services.Claims{UserID: u.ID, SchoolID: &school, Role: role, Name: token}
	}
	otherSchool := uuid.New()
	intruder := store.AddUser(models.User{SchoolID: &otherSchool, Role: "class_teacher", FullName: "intruder", IsActive: true})
	tokens["intruder"] = &services.Claims{UserID: intruder.ID, SchoolID: &otherSchool, Role: "class_teacher", Name: "intruder"}
	classID := uuid.New()
	student := store.AddStudent(models.Student{SchoolID: school}, &classID)

	audit := services.NewAuditService(store, "test", nil)
	examSvc := services.NewExamService(store, audit, nil)
	router := NewRouter(RouterConfig{
		Verifier: tokens,
		Exams:    NewExamHandler(examSvc, services.NewRankingService(store, nil), services.NewAnalyticsService(store, nil)),
		Marks:    NewMarksHandler(services.NewMarksService(store, audit, nil)),
		Audit:    NewAuditHandler(audit),
		Academic: NewAcademicHandler(services.NewAcademicService(store, nil)),
	})

	return &apiFixture{
		router:  router,
		store:   store,
		relay:   services.NewAuditRelay(store, nil, 10, 3),
		school:  school,
		mathID:  uuid.New(),
		student: student.ID,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) createExam(t *testing.T) models.Exam {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/exams", "admin", gin.H{
		"name":     "Mid Term",
		"type":     "mid_term",
		"subjects": []gin.H{{"subject_id": f.mathID, "name": "Mathematics", "max_marks": 100}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var exam models.Exam
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exam))
	return exam
}

func TestRouter_Health(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRouter_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/exams", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/exams", "forged", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/exams", "teacher", gin.H{"name": "x", "type": "quiz"}).Code)
}

func TestRouter_MarksLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	exam := f.createExam(t)
	marksPath := "/api/v1/marks"
	entry := gin.H{"exam_id": exam.ID, "student_id": f.student, "subject_id": f.mathID, "class_score": 20, "exam_score": 50}

	w := f.do(t, http.MethodPost, marksPath, "teacher", entry)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mark models.StudentMark
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mark))
	assert.Equal(t, 70.0, mark.TotalScore)

	w = f.do(t, http.MethodPost, "/api/v1/exams/"+exam.ID.String()+"/publish", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, marksPath, "teacher", entry).Code)
	assert.Equal(t, http.StatusLocked, f.do(t, http.MethodPost, marksPath, "admin", entry).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, marksPath+"?override=true", "admin", entry).Code)

	_, err := f.relay.Flush(context.Background())
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/api/v1/audit?action="+services.ActionEditMarksCompleted, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.AuditLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestRouter_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	exam := f.createExam(t)
	base := "/api/v1/exams/" + exam.ID.String()

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/exams/"+uuid.NewString(), "admin", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/exams/not-a-uuid", "admin", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/unlock", "admin", gin.H{"reason": "typo"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, base, "admin", gin.H{"status": "ongoing"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, base, "admin", gin.H{"status": "draft"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/marks", "teacher", gin.H{
		"exam_id": exam.ID, "student_id": f.student, "subject_id": f.mathID, "class_score": 80, "exam_score": 50,
	}).Code)
}

func TestRouter_BulkAndAnalytics(t *testing.T) {
	f := newAPIFixture(t)
	exam := f.createExam(t)

	w := f.do(t, http.MethodPost, "/api/v1/marks/bulk", "teacher", gin.H{
		"exam_id": exam.ID,
		"entries": []gin.H{
			{"student_id": f.student, "subject_id": f.mathID, "class_score": 30, "exam_score": 50},
			{"student_id": uuid.New(), "subject_id": f.mathID, "class_score": 30, "exam_score": 50},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var bulk struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bulk))
	assert.Equal(t, 1, bulk.Succeeded)
	assert.Equal(t, 1, bulk.Failed)

	w = f.do(t, http.MethodGet, "/api/v1/exams/"+exam.ID.String()+"/analytics", "teacher", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report services.ExamAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Overall.Passed)
	assert.Equal(t, 100.0, report.Overall.PassRate)

	w = f.do(t, http.MethodGet, "/api/v1/exams/"+exam.ID.String()+"/students/"+f.student.String()+"/report", "teacher", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_OtherSchoolCannotTouchLedger(t *testing.T) {
	f := newAPIFixture(t)
	exam := f.createExam(t)
	w := f.do(t, http.MethodPost, "/api/v1/marks", "teacher", gin.H{
		"exam_id": exam.ID, "student_id": f.student, "subject_id": f.mathID, "class_score": 20, "exam_score": 50,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mark models.StudentMark
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mark))
	ids := gin.H{"ids": []uuid.UUID{mark.ID}}
	base := "/api/v1/exams/" + exam.ID.String()

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/marks/submit", "intruder", ids).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/marks/verify", "intruder", ids).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/rank", "intruder", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/subjects/"+f.mathID.String()+"/rank", "intruder", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, base+"/analytics", "intruder", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, base+"/students/"+f.student.String()+"/report", "intruder", nil).Code)

	stored, err := f.store.Marks().Get(context.Background(), mark.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionDraft, stored.SubmissionStatus)
	assert.Nil(t, stored.VerifiedBy)
	assert.Nil(t, stored.Position)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/marks/submit", "teacher", ids).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/marks/verify", "classteacher", ids).Code)
	stored, err = f.store.Marks().Get(context.Background(), mark.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionVerifiedByClass, stored.SubmissionStatus)
}
