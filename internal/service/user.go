package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/query"
)

// UserService registers users from invite links.
type UserService struct {
	queries *query.Runner
	logger  *zap.Logger
}

// NewUserService creates the service.
func NewUserService(queries *query.Runner, logger *zap.Logger) *UserService {
	return &UserService{queries: queries, logger: logger}
}

// Register creates the user behind an invite code. It is never retried.
func (s *UserService) Register(ctx context.Context, req *domain.RegisterUserRequest) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "UserService.Register")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := query.Mutate[*domain.User](ctx, s.queries, domain.Post("/user", req), query.Key(domain.Get("/user")))
	if err != nil {
		s.logger.Warn("user: registration failed", zap.Error(err))
		return nil, err
	}

	if user != nil {
		s.logger.Info("user: registered", zap.String("user_uuid", user.UserUUID))
	}
	return user, nil
}
