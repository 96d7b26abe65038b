package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBittiming(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"bittiming", "500", "125"})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), " 500 kbps:")
	require.Contains(t, out.String(), "BTR=0x0005000B")
	require.Contains(t, out.String(), "sp=87.5%")

	rootCmd.SetArgs([]string{"bittiming", "fast"})
	require.Error(t, rootCmd.Execute())
}
