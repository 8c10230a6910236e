package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"timesheet/auth"
	"timesheet/i18n"
	"timesheet/logger"
	"timesheet/service"
)

const apiTokenHeader = "X-API-Token"

// maxAPIBodyBytes bounds JSON request bodies.
const maxAPIBodyBytes = 1 << 16

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) RegisterAPIHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/register", s.APIRegisterHandler)
	mux.HandleFunc("POST /api/v1/login", s.APILoginHandler)
	mux.HandleFunc("POST /api/v1/logout", s.requireToken(s.APILogoutHandler))
	mux.HandleFunc("GET /api/v1/dashboard", s.requireToken(s.APIDashboardHandler))
	mux.HandleFunc("POST /api/v1/projects", s.requireToken(s.APICreateProjectHandler))
	mux.HandleFunc("POST /api/v1/clock_in/{project_id}", s.requireToken(s.APIClockInHandler))
	mux.HandleFunc("POST /api/v1/clock_out/{timesheet_id}", s.requireToken(s.APIClockOutHandler))
	mux.HandleFunc("POST /api/v1/complete_project/{project_id}", s.requireToken(s.APICompleteProjectHandler))
	mux.HandleFunc("GET /api/v1/archives", s.requireToken(s.APIArchivesHandler))
}

// requireToken resolves X-API-Token to a user and stores it in the request
// context the same way the session middleware does for pages.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.svc.UserForAPIToken(r.Context(), r.Header.Get(apiTokenHeader))
		if err != nil {
			if !errors.Is(err, service.ErrInvalidCredentials) {
				s.log.WithFields(r.Context(), nil).Errorf("api token lookup failed: %v", err)
			}
			lang := i18n.DetectLanguage(r)
			sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(lang, "Unauthorized")})
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), user)))
	}
}

// sendAPIError maps service errors onto status codes. Anything unknown is
// logged and reported as a 500 without details.
func (s *Server) sendAPIError(w http.ResponseWriter, r *http.Request, err error) {
	lang := i18n.DetectLanguage(r)

	var ve *service.ValidationError
	if errors.As(err, &ve) {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{
			Status:  "error",
			Message: i18n.T(lang, "InvalidInput") + " " + i18n.T(lang, fieldLabel(ve.Field)),
			Data:    map[string]string{"field": ve.Field, "rule": ve.Tag},
		})
		return
	}
	if key, status, ok := lookupError(err); ok {
		sendJSONResponse(w, status, APIResponse{Status: "error", Message: i18n.T(lang, key)})
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"path": r.URL.Path}).Errorf("api error: %v", err)
	sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalError")})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		lang := i18n.DetectLanguage(r)
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return false
	}
	return true
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) APIRegisterHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if s.cfg.RegistrationCaptcha {
		// The captcha can only be solved through the HTML form.
		sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: i18n.T(lang, "CaptchaFailed")})
		return
	}

	ip := getClientIP(r)
	if !s.signupLimiter.Allow(ip) {
		sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyAttempts")})
		return
	}

	var input credentialsRequest
	if !decodeJSON(w, r, &input) {
		return
	}

	user, err := s.svc.Register(r.Context(), input.Username, input.Password)
	if err == nil || errors.Is(err, service.ErrUsernameTaken) {
		s.signupLimiter.RecordFailure(ip)
	}
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "register", "user_id": user.ID, "via": "api"}).Info("user registered")
	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status:  "success",
		Message: i18n.T(lang, "RegistrationSuccess"),
		Data:    map[string]any{"user_id": user.ID, "username": user.Username},
	})
}

func (s *Server) APILoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)

	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyAttempts")})
		return
	}

	var input credentialsRequest
	if !decodeJSON(w, r, &input) {
		return
	}

	user, err := s.svc.Authenticate(r.Context(), input.Username, input.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.loginLimiter.RecordFailure(ip)
		}
		s.sendAPIError(w, r, err)
		return
	}
	s.loginLimiter.Reset(ip)

	token, err := s.svc.IssueAPIToken(r.Context(), user.ID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "login", "user_id": user.ID, "via": "api"}).Info("api token issued")
	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":    token,
			"user_id":  user.ID,
			"username": user.Username,
		},
	})
}

func (s *Server) APILogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RevokeAPIToken(r.Context(), r.Header.Get(apiTokenHeader)); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(i18n.DetectLanguage(r), "LoggedOut")})
}

func (s *Server) APIDashboardHandler(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.svc.Dashboard(r.Context(), currentUser(r).ID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: dashboard})
}

func (s *Server) APICreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	project, err := s.svc.CreateProject(r.Context(), currentUser(r).ID, input.Name)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: project})
}

func (s *Server) APIClockInHandler(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "project_id")
	if !ok {
		s.sendAPIError(w, r, service.ErrNotFound)
		return
	}

	sheet, err := s.svc.ClockIn(r.Context(), currentUser(r).ID, projectID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: sheet})
}

func (s *Server) APIClockOutHandler(w http.ResponseWriter, r *http.Request) {
	timesheetID, ok := pathID(r, "timesheet_id")
	if !ok {
		s.sendAPIError(w, r, service.ErrNotFound)
		return
	}

	var input struct {
		Note string `json:"note"`
	}
	// An empty body means no note.
	if r.ContentLength != 0 && !decodeJSON(w, r, &input) {
		return
	}

	sheet, err := s.svc.ClockOut(r.Context(), currentUser(r).ID, timesheetID, input.Note)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: sheet})
}

func (s *Server) APICompleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "project_id")
	if !ok {
		s.sendAPIError(w, r, service.ErrNotFound)
		return
	}

	archive, err := s.svc.CompleteProject(r.Context(), currentUser(r).ID, projectID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: archive})
}

func (s *Server) APIArchivesHandler(w http.ResponseWriter, r *http.Request) {
	archives, err := s.svc.Archives(r.Context(), currentUser(r).ID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: archives})
}
