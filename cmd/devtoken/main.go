// Command devtoken signs an access token with the configured JWT secret so
// the chat API can be exercised locally without the account service.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/config"
	"github.com/taxlink/taxchat/internal/pkg/auth"
	"github.com/taxlink/taxchat/internal/pkg/helpers"
	"github.com/taxlink/taxchat/internal/pkg/logger"
)

func main() {
	userID := flag.Int64("user", 0, "user id to put in the token")
	userType := flag.String("type", string(models.UserTypeUser), "user or tax_accountant")
	configPath := flag.String("config", filepath.Join("configs", "config.yaml"), "config file")
	flag.Parse()

	ut := models.UserType(*userType)
	if *userID <= 0 || !ut.Valid() {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: helpers.ParseDuration(cfg.JWT.AccessTokenExpiration, time.Hour),
		TokenIssuer:    cfg.JWT.Issuer,
	})

	token, expiresAt, err := jwtService.GenerateToken(models.Identity{ID: *userID, UserType: ut})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to sign token")
		os.Exit(1)
	}

	logger.Info().Int64("userID", *userID).Time("expiresAt", expiresAt).Msg("Token issued")
	fmt.Println(token)
}
