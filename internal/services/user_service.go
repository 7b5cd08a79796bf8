package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"creditledger/internal/infrastructure/kafka"
	"creditledger/internal/infrastructure/redis"
	"creditledger/internal/models"
	"creditledger/internal/repository"
	pkgerrors "creditledger/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

// UserService is the identity collaborator: it issues the tokens carrying
// owner id and admin flag that the ledger subsystem trusts.
type UserService interface {
	Register(ctx context.Context, username, password string) (int32, error)
	Login(ctx context.Context, username, password string) (string, error)
}

type userService struct {
	userRepo      repository.UserRepository
	redisClient   redis.RedisClient
	kafkaProducer kafka.KafkaProducer
	jwtSecret     string
}

func NewUserService(userRepo repository.UserRepository, redisClient redis.RedisClient, kafkaProducer kafka.KafkaProducer, jwtSecret string) *userService {
	return &userService{
		userRepo:      userRepo,
		redisClient:   redisClient,
		kafkaProducer: kafkaProducer,
		jwtSecret:     jwtSecret,
	}
}

func (s *userService) Register(ctx context.Context, username, password string) (int32, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if username == "" || password == "" {
		span.SetStatus(codes.Error, "empty username or password")
		return 0, pkgerrors.ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "username", username, "error", err)
		return 0, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUsernameExists) {
			span.SetStatus(codes.Error, "username already exists")
			slog.Warn("username already exists", "username", username)
			return 0, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user in DB", "username", username, "error", err)
		return 0, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	if s.kafkaProducer != nil {
		event := map[string]interface{}{
			"event_type": "user_registered",
			"user_id":    user.ID,
			"username":   username,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		}
		eventBytes, err := json.Marshal(event)
		if err != nil {
			span.RecordError(err)
			slog.Error("failed to marshal kafka event", "user_id", user.ID, "error", err)
		} else {
			go func() {
				retries := 3
				for i := 0; i < retries; i++ {
					if err := s.kafkaProducer.Send(context.Background(), "users", int64(user.ID), eventBytes); err == nil {
						slog.Info("user registration event sent", "user_id", user.ID, "username", username)
						return
					}
					time.Sleep(time.Second * time.Duration(i+1))
				}
				slog.Error("failed to send user registration event after retries", "user_id", user.ID, "username", username)
			}()
		}
	}

	slog.Info("user registered successfully", "user_id", user.ID, "username", username)
	return user.ID, nil
}

func (s *userService) Login(ctx context.Context, username, password string) (string, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		slog.Error("failed to login", "username", username, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"is_admin": user.IsAdmin,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.redisClient.Set(ctx, fmt.Sprintf("user:%d:token", user.ID), tokenString, time.Hour); err != nil {
		slog.Error("failed to cache JWT", "user_id", user.ID, "error", err)
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	return tokenString, nil
}
