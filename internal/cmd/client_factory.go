package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/config"
)

type clientFactory struct {
	timeout   time.Duration
	userAgent string
}

func newClientFactory() *clientFactory {
	return &clientFactory{
		timeout:   flags.Timeout,
		userAgent: fmt.Sprintf("chathook-cli/%s", version),
	}
}

func (f *clientFactory) account() (*api.Client, config.Account, error) {
	account, err := config.LoadAccount()
	if err != nil {
		return nil, config.Account{}, err
	}
	return f.newClient(account), account, nil
}

func (f *clientFactory) newClient(account config.Account) *api.Client {
	client := api.New(account.BaseURL, account.ProxyToken, account.AccountID)
	if f.timeout > 0 {
		client.HTTP.Timeout = f.timeout
	}
	if f.userAgent != "" {
		client.UserAgent = f.userAgent
	}
	if flags.IdempotencyKey != "" {
		if strings.EqualFold(flags.IdempotencyKey, "auto") {
			client.IdempotencyKeyFunc = newIdempotencyKey
		} else {
			client.IdempotencyKey = flags.IdempotencyKey
		}
	}
	return client
}

// getClient creates an API client from stored credentials
func getClient() (*api.Client, error) {
	client, _, err := newClientFactory().account()
	return client, err
}

// getClientWithAccount returns the client together with the resolved account,
// for commands that need the profile's kanban DSN or refresh settings.
func getClientWithAccount() (*api.Client, config.Account, error) {
	return newClientFactory().account()
}
