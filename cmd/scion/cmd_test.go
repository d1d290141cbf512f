package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	require.Equal(t, "scion", rootCmd.Use)
	require.NotEmpty(t, rootCmd.Short)

	flag := rootCmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, flag)
	require.Equal(t, "v", flag.Shorthand)
}

func TestServeCommandRegistered(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Use == "serve" {
			found = true
		}
	}
	require.True(t, found)
}

func TestStatusCommandRejectsExtraArgs(t *testing.T) {
	require.NoError(t, statusCmd.Args(statusCmd, []string{"one-vault"}))
	require.Error(t, statusCmd.Args(statusCmd, []string{"one", "two"}))
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	versionCmd.Run(versionCmd, nil)

	require.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.True(t, strings.Contains(buf.String(), "scion version"))
}
