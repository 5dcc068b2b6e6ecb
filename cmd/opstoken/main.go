// Command opstoken mints an operator JWT for the console and REST API.
//
//	opstoken -operator asha -ttl 12h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/app"
	"github.com/recoverydesk/voiceagent/internal/httpapi"
)

func main() {
	operator := flag.String("operator", "", "operator name carried in the token")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRY)")
	flag.Parse()

	if err := app.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		logrus.Warnf("dotenv: %v", err)
	}
	cfg := app.LoadConfigFromEnv()
	if *ttl <= 0 {
		*ttl = cfg.JWTExpiry
	}

	tok, expiresAt, err := httpapi.IssueOperatorToken(cfg.JWTSecret, *operator, *ttl)
	if err != nil {
		logrus.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok)
	logrus.Infof("token for %s expires at %s", *operator, expiresAt.Format(time.RFC3339))
}
