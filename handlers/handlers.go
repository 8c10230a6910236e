package handlers

import (
	"context"
	"crypto/sha256"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"

	"timesheet/auth"
	"timesheet/config"
	"timesheet/i18n"
	"timesheet/logger"
	"timesheet/metrics"
	"timesheet/models"
	"timesheet/service"
)

// Server carries everything the handlers need. It is built once at startup
// and shared by all requests.
type Server struct {
	cfg      config.Config
	svc      *service.Service
	sessions *auth.Manager
	log      *logger.Logger

	loginLimiter  *rateLimiter
	signupLimiter *rateLimiter
	throttle      *requestThrottle

	pages map[string]*template.Template
}

func NewServer(cfg config.Config, svc *service.Service, sessions *auth.Manager, log *logger.Logger) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		svc:           svc,
		sessions:      sessions,
		log:           log,
		loginLimiter:  newRateLimiter(),
		signupLimiter: newRateLimiter(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.throttle = newRequestThrottle(cfg.RequestsPerSecond, cfg.RequestBurst)
	}

	pages, err := s.parseTemplates()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	return s, nil
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.IndexHandler)
	mux.HandleFunc("GET /register", s.RegisterPageHandler)
	mux.HandleFunc("POST /register", s.RegisterHandler)
	mux.HandleFunc("GET /login", s.LoginPageHandler)
	mux.HandleFunc("POST /login", s.LoginHandler)
	mux.HandleFunc("POST /logout", s.require(s.LogoutHandler))
	mux.HandleFunc("GET /dashboard", s.require(s.DashboardHandler))
	mux.HandleFunc("GET /create_project", s.require(s.CreateProjectPageHandler))
	mux.HandleFunc("POST /create_project", s.require(s.CreateProjectHandler))
	mux.HandleFunc("POST /clock_in/{project_id}", s.require(s.ClockInHandler))
	mux.HandleFunc("POST /clock_out/{timesheet_id}", s.require(s.ClockOutHandler))
	mux.HandleFunc("POST /complete_project/{project_id}", s.require(s.CompleteProjectHandler))
	mux.HandleFunc("GET /archives", s.require(s.ArchivesHandler))
	mux.HandleFunc("POST /clear_db", s.require(s.ClearDataHandler))
	mux.HandleFunc("GET /healthz", s.HealthHandler)

	if s.cfg.RegistrationCaptcha {
		mux.Handle("GET /captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))
	}
	if s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}
}

// Handler assembles the full middleware chain. HTML routes sit behind CSRF
// protection; the token-authenticated JSON API under /api/ does not.
func (s *Server) Handler() http.Handler {
	web := http.NewServeMux()
	s.RegisterHandlers(web)

	api := http.NewServeMux()
	s.RegisterAPIHandlers(api)

	csrfKey := sha256.Sum256([]byte(s.cfg.SessionKey + "csrf"))
	protect := csrf.Protect(
		csrfKey[:],
		csrf.Secure(s.cfg.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)
	webHandler := protect(web)
	if !s.cfg.SecureCookies {
		webHandler = plaintextHTTP(webHandler)
	}

	root := http.NewServeMux()
	root.Handle("/api/", api)
	root.Handle("/", webHandler)

	var h http.Handler = root
	h = s.throttleMiddleware(h)
	h = SecurityHeadersMiddleware(h)
	h = metrics.Middleware(h)
	h = s.recoveryMiddleware(h)
	h = requestIDMiddleware(h)
	return h
}

func (s *Server) require(next http.HandlerFunc) http.HandlerFunc {
	return s.sessions.Require(s.svc, next)
}

func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if s.sessions.UserID(r) != 0 {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) RegisterPageHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if s.cfg.RegistrationCaptcha {
		data["CaptchaID"] = captcha.New()
	}
	s.renderTemplate(w, r, "register.html", data)
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if !s.signupLimiter.Allow(ip) {
		s.flash(w, r, "TooManyAttempts")
		s.redirect(w, r, "/register")
		return
	}

	if s.cfg.RegistrationCaptcha && !captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
		s.signupLimiter.RecordFailure(ip)
		s.flash(w, r, "CaptchaFailed")
		s.redirect(w, r, "/register")
		return
	}

	user, err := s.svc.Register(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err == nil || errors.Is(err, service.ErrUsernameTaken) {
		// Successful signups count too, which caps account creation per IP.
		s.signupLimiter.RecordFailure(ip)
	}
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/register")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "register", "user_id": user.ID}).Info("user registered")
	s.flash(w, r, "RegistrationSuccess")
	s.redirect(w, r, "/login")
}

func (s *Server) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	if s.sessions.UserID(r) != 0 {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.renderTemplate(w, r, "login.html", nil)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		s.flash(w, r, "TooManyAttempts")
		s.redirect(w, r, "/login")
		return
	}

	user, err := s.svc.Authenticate(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.loginLimiter.RecordFailure(ip)
		}
		s.flashError(w, r, err)
		s.redirect(w, r, "/login")
		return
	}
	s.loginLimiter.Reset(ip)

	if err := s.sessions.Login(w, r, user.ID, i18n.T(i18n.DetectLanguage(r), "LoggedIn")); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.WithFields(r.Context(), logger.Fields{"action": "login", "user_id": user.ID}).Info("user logged in")
	s.redirect(w, r, "/dashboard")
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(w, r, i18n.T(i18n.DetectLanguage(r), "LoggedOut")); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.redirect(w, r, "/login")
}

func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	dashboard, err := s.svc.Dashboard(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.renderTemplate(w, r, "dashboard.html", map[string]any{
		"Projects":   dashboard.Projects,
		"TimeSheets": dashboard.TimeSheets,
	})
}

func (s *Server) CreateProjectPageHandler(w http.ResponseWriter, r *http.Request) {
	s.renderTemplate(w, r, "create_project.html", nil)
}

func (s *Server) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	project, err := s.svc.CreateProject(r.Context(), user.ID, r.FormValue("name"))
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/create_project")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "create_project", "user_id": user.ID, "project_id": project.ID}).Info("project created")
	s.flash(w, r, "ProjectCreated")
	s.redirect(w, r, "/dashboard")
}

func (s *Server) ClockInHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	projectID, ok := pathID(r, "project_id")
	if !ok {
		s.flashError(w, r, service.ErrNotFound)
		s.redirect(w, r, "/dashboard")
		return
	}

	sheet, err := s.svc.ClockIn(r.Context(), user.ID, projectID)
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "clock_in", "user_id": user.ID, "timesheet_id": sheet.ID}).Info("clocked in")
	s.flash(w, r, "ClockedIn")
	s.redirect(w, r, "/dashboard")
}

func (s *Server) ClockOutHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	timesheetID, ok := pathID(r, "timesheet_id")
	if !ok {
		s.flashError(w, r, service.ErrNotFound)
		s.redirect(w, r, "/dashboard")
		return
	}

	sheet, err := s.svc.ClockOut(r.Context(), user.ID, timesheetID, r.FormValue("note"))
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "clock_out", "user_id": user.ID, "timesheet_id": sheet.ID}).Info("clocked out")
	s.flash(w, r, "ClockedOut")
	s.redirect(w, r, "/dashboard")
}

func (s *Server) CompleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	projectID, ok := pathID(r, "project_id")
	if !ok {
		s.flashError(w, r, service.ErrNotFound)
		s.redirect(w, r, "/dashboard")
		return
	}

	archive, err := s.svc.CompleteProject(r.Context(), user.ID, projectID)
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "complete_project", "user_id": user.ID, "project_id": projectID, "archive_id": archive.ID}).Info("project completed")
	s.flash(w, r, "ProjectCompleted")
	s.redirect(w, r, "/archives")
}

func (s *Server) ArchivesHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	archives, err := s.svc.Archives(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.renderTemplate(w, r, "archives.html", map[string]any{"Archives": archives})
}

func (s *Server) ClearDataHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if r.FormValue("confirm") == "" {
		s.flash(w, r, "ClearNotConfirmed")
		s.redirect(w, r, "/dashboard")
		return
	}
	if err := s.svc.ClearData(r.Context(), user.ID); err != nil {
		s.log.WithFields(r.Context(), logger.Fields{"action": "clear_db", "user_id": user.ID}).Errorf("clear failed: %v", err)
		s.flash(w, r, "ClearFailed")
		s.redirect(w, r, "/dashboard")
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"action": "clear_db", "user_id": user.ID}).Info("user data cleared")
	s.flash(w, r, "DataCleared")
	s.redirect(w, r, "/dashboard")
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		s.log.WithFields(r.Context(), nil).Errorf("health check failed: %v", err)
		sendJSONResponse(w, http.StatusServiceUnavailable, APIResponse{Status: "error"})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "ok"})
}

func currentUser(r *http.Request) *models.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request, key string) {
	s.addFlash(w, r, i18n.T(i18n.DetectLanguage(r), key))
}

func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, msg string) {
	if err := s.sessions.AddFlash(w, r, msg); err != nil {
		s.log.WithFields(r.Context(), nil).Errorf("failed to save flash: %v", err)
	}
}

// flashError turns a service error into a user-facing flash. Unexpected
// errors are logged and shown as a generic failure.
func (s *Server) flashError(w http.ResponseWriter, r *http.Request, err error) {
	lang := i18n.DetectLanguage(r)

	var ve *service.ValidationError
	if errors.As(err, &ve) {
		s.addFlash(w, r, i18n.T(lang, "InvalidInput")+" "+i18n.T(lang, fieldLabel(ve.Field)))
		return
	}
	if key, _, ok := lookupError(err); ok {
		s.addFlash(w, r, i18n.T(lang, key))
		return
	}

	s.log.WithFields(r.Context(), logger.Fields{"path": r.URL.Path}).Errorf("unexpected error: %v", err)
	s.addFlash(w, r, i18n.T(lang, "InternalError"))
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithFields(r.Context(), logger.Fields{"path": r.URL.Path}).Errorf("internal error: %v", err)
	http.Error(w, i18n.T(i18n.DetectLanguage(r), "InternalError"), http.StatusInternalServerError)
}

type errorMapping struct {
	err    error
	key    string
	status int
}

var errorMappings = []errorMapping{
	{service.ErrUsernameTaken, "UsernameAlreadyExists", http.StatusConflict},
	{service.ErrInvalidCredentials, "InvalidCredentials", http.StatusUnauthorized},
	{service.ErrNotFound, "NotFoundOrUnauthorized", http.StatusNotFound},
	{service.ErrProjectNameTaken, "ProjectNameTaken", http.StatusConflict},
	{service.ErrProjectCompleted, "ProjectNotOngoing", http.StatusConflict},
	{service.ErrAlreadyCompleted, "ProjectAlreadyCompleted", http.StatusConflict},
	{service.ErrAlreadyClockedOut, "AlreadyClockedOut", http.StatusConflict},
	{service.ErrClearFailed, "ClearFailed", http.StatusInternalServerError},
}

func lookupError(err error) (key string, status int, ok bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.key, m.status, true
		}
	}
	return "", 0, false
}

func fieldLabel(field string) string {
	switch field {
	case "username":
		return "Username"
	case "password":
		return "Password"
	case "name":
		return "ProjectName"
	case "note":
		return "Note"
	}
	return field
}
