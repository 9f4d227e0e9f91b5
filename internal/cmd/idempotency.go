package cmd

import "github.com/google/uuid"

func newIdempotencyKey() string {
	return "chathook_" + uuid.NewString()
}
