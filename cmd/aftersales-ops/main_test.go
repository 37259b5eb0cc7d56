package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*kong.Context, *CLI, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("aftersales-ops"), kong.Exit(func(int) {}))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	return kctx, &cli, err
}

func TestParse_Resolve(t *testing.T) {
	kctx, cli, err := parse(t, "resolve", "--tracking", "SF123", "--preview")
	require.NoError(t, err)
	assert.Equal(t, "resolve", kctx.Command())
	assert.Equal(t, "SF123", cli.Resolve.Tracking)
	assert.True(t, cli.Resolve.Preview)

	_, _, err = parse(t, "resolve", "--tracking", "SF123", "--order", "order-1")
	assert.Error(t, err)

	_, _, err = parse(t, "resolve")
	assert.Error(t, err)
}

func TestParse_TokenRoleIsChecked(t *testing.T) {
	_, _, err := parse(t, "token", "--user", "u-1", "--role", "owner")
	assert.Error(t, err)

	kctx, cli, err := parse(t, "sweep-sla", "--batch-size", "50")
	require.NoError(t, err)
	assert.Equal(t, "sweep-sla", kctx.Command())
	assert.Equal(t, 50, cli.SweepSLA.BatchSize)
}

func TestTokenCmd_MintsValidToken(t *testing.T) {
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")
	var out bytes.Buffer
	cmd := &TokenCmd{User: "buyer-1", Role: "buyer"}
	require.NoError(t, cmd.Run(&opsEnv{ctx: context.Background(), out: &out}))

	tok, err := utils.JwtValidate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	claims, ok := tok.Claims.(*utils.JwtCustomClaim)
	require.True(t, ok)
	assert.Equal(t, "buyer-1", claims.ID)
	assert.Equal(t, "buyer", claims.Role)
}
