package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/internal/session"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/txn"
)

const (
	headerUser  = "X-User"
	headerRoles = "X-Roles"
)

func NewServer(cfg Config, log logger.Logger, sessions registry) Server {
	return newServer(cfg, log, sessions)
}

func newServer(cfg Config, log logger.Logger, sessions registry) *server {
	serveLog := log.With("api_http_server")

	fiberCfg := fiber.Config{
		ReadTimeout:             cfg.HTTP.ReadTimeout,
		WriteTimeout:            cfg.HTTP.WriteTimeout,
		IdleTimeout:             cfg.HTTP.IdleTimeout,
		BodyLimit:               cfg.HTTP.BodyLimit,
		DisableStartupMessage:   true,
		EnableTrustedProxyCheck: len(cfg.Proxy.Trusted) != 0,
		ProxyHeader:             cfg.Proxy.Header,
		TrustedProxies:          cfg.Proxy.Trusted,
	}

	fiberCfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return sendError(c, fe.Code, "request-error", fe.Message)
		}

		serveLog.Warn(errors.WrapFail(err, "handle http request"))
		return sendError(c, http.StatusInternalServerError, errors.KindBackend.String(), err.Error())
	}

	s := &server{
		sessions: sessions,
		http:     fiber.New(fiberCfg),
		addr:     cfg.HTTP.Addr,
		log:      serveLog,
	}

	s.setupRoutes()

	return s
}

type server struct {
	sessions registry
	http     *fiber.App
	addr     string
	log      logger.Logger
}

func (s *server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Listen(s.addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	var errs []error

	err := s.http.ShutdownWithContext(ctx)
	if err != nil {
		errs = append(errs, errors.WrapFail(err, "shutdown http server"))
	}

	err = s.sessions.CloseAll(ctx)
	if err != nil {
		errs = append(errs, errors.WrapFail(err, "close sessions"))
	}

	return errors.Collapse(errs...)
}

func (s *server) setupRoutes() {
	s.http.Post("/sessions", s.handleOpen)
	s.http.Delete("/sessions/:id", s.handleClose)

	sessions := s.http.Group("/sessions/:id")

	sessions.Put("/items/:key", s.handleSet)
	sessions.Delete("/items/:key", s.handleRemove)
	sessions.Get("/items/:key", s.handleGet)
	sessions.Post("/save", s.handleSave)

	sessions.Get("/txn", s.handleStatus)
	sessions.Post("/txn/begin", s.handleBegin)
	sessions.Post("/txn/commit", s.handleCommit)
	sessions.Post("/txn/rollback", s.handleRollback)
	sessions.Put("/txn/timeout", s.handleTimeout)
}

func (s *server) handleOpen(c *fiber.Ctx) error {
	sess := s.sessions.Open()
	return c.Status(http.StatusCreated).JSON(map[string]string{"id": sess.ID()})
}

func (s *server) handleClose(c *fiber.Ctx) error {
	err := s.sessions.Close(s.requestContext(c), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *server) handleSet(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	sess.Set(itemKey(c), c.Body())
	return c.SendStatus(http.StatusNoContent)
}

func (s *server) handleRemove(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	sess.Remove(itemKey(c))
	return c.SendStatus(http.StatusNoContent)
}

// itemKey copies the key out of the request buffer, which fiber reuses
// once the handler returns.
func itemKey(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("key"))
}

func (s *server) handleGet(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	value, err := sess.Get(s.requestContext(c), c.Params("key"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(http.StatusOK).Send(value)
}

func (s *server) handleSave(c *fiber.Ctx) error {
	return s.withSession(c, func(ctx context.Context, sess *session.Session) error {
		return sess.Save(ctx)
	})
}

func (s *server) handleStatus(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	in, err := sess.Txn().InTransaction(s.requestContext(c))
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(http.StatusOK).JSON(map[string]bool{"in_transaction": in})
}

func (s *server) handleBegin(c *fiber.Ctx) error {
	return s.withSession(c, func(ctx context.Context, sess *session.Session) error {
		return sess.Txn().Begin(ctx)
	})
}

func (s *server) handleCommit(c *fiber.Ctx) error {
	return s.withSession(c, func(ctx context.Context, sess *session.Session) error {
		return sess.Txn().Commit(ctx)
	})
}

func (s *server) handleRollback(c *fiber.Ctx) error {
	return s.withSession(c, func(ctx context.Context, sess *session.Session) error {
		return sess.Txn().Rollback(ctx)
	})
}

type timeoutRequest struct {
	Seconds int `json:"seconds"`
}

func (s *server) handleTimeout(c *fiber.Ctx) error {
	var req timeoutRequest
	err := c.BodyParser(&req)
	if err != nil {
		s.log.Warn(errors.WrapFail(err, "parse timeout request"))
		return sendError(c, http.StatusBadRequest, "request-error", "bad timeout format")
	}

	return s.withSession(c, func(ctx context.Context, sess *session.Session) error {
		return sess.Txn().SetTransactionTimeout(ctx, req.Seconds)
	})
}

func (s *server) withSession(c *fiber.Ctx, do func(ctx context.Context, sess *session.Session) error) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	err = do(s.requestContext(c), sess)
	if err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(http.StatusNoContent)
}

func (s *server) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()

	roles := c.Get(headerRoles)
	if roles == "" {
		return ctx
	}

	return txn.WithPrincipal(ctx, txn.Principal{
		Name:  c.Get(headerUser),
		Roles: strings.Split(roles, ","),
	})
}

func (s *server) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(errors.WrapFailf(err, "%s %s", c.Method(), c.Path()))
	}

	kind := errors.KindOf(err).String()
	if status == http.StatusNotFound {
		kind = "not-found"
	}

	return sendError(c, status, kind, err.Error())
}

func statusOf(err error) int {
	if errors.Is(err, session.ErrUnknownSession) || errors.Is(err, kv.ErrNotFound) {
		return http.StatusNotFound
	}

	switch errors.KindOf(err) {
	case errors.KindUnsupportedNesting, errors.KindRollbackOccurred:
		return http.StatusConflict
	case errors.KindIllegalState:
		return http.StatusPreconditionFailed
	case errors.KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func sendError(c *fiber.Ctx, status int, kind string, msg string) error {
	return c.Status(status).JSON(map[string]string{"status": "ERROR", "kind": kind, "message": msg})
}
