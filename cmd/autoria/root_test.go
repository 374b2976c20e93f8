package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"crawl", "serve", "backup"})

	flag := root.PersistentFlags().Lookup("env-file")
	require.NotNil(t, flag)
	assert.Equal(t, ".env", flag.DefValue)
}

func TestCrawlFlags(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()
	require.NotNil(t, cmd.Flags().Lookup("log-file"))
}

func TestServeFlags(t *testing.T) {
	t.Parallel()

	flag := NewServeCmd().Flags().Lookup("scheduler")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestCrawlRejectsArgs(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	root.SetArgs([]string{"crawl", "extra"})
	assert.Error(t, root.Execute())
}
