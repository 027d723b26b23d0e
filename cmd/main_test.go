package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	valid := config{
		PublicEndpoint: "http://localhost:4000",
		FrameDuration:  time.Millisecond * 15,
	}

	tests := []struct {
		scenario string
		change   func(c *config)
		err      bool
	}{
		{
			scenario: "valid",
			change:   func(c *config) {},
		},
		{
			scenario: "invalid public endpoint",
			change:   func(c *config) { c.PublicEndpoint = "localhost" },
			err:      true,
		},
		{
			scenario: "private key and private key file",
			change: func(c *config) {
				c.PrivateKey = "0x42"
				c.PrivateKeyFile = "key.txt"
			},
			err: true,
		},
		{
			scenario: "zero frame duration",
			change:   func(c *config) { c.FrameDuration = 0 },
			err:      true,
		},
		{
			scenario: "server id with separator",
			change:   func(c *config) { c.ServerID = "boxed" },
			err:      true,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			conf := valid
			test.change(&conf)

			err := validateConfig(conf)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoadPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hexutil.Encode(crypto.FromECDSA(key))

	t.Run("no key", func(t *testing.T) {
		privateKey, err := loadPrivateKey(config{})
		require.NoError(t, err)
		require.Nil(t, privateKey)
	})

	t.Run("key", func(t *testing.T) {
		privateKey, err := loadPrivateKey(config{PrivateKey: hexKey})
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(privateKey.PublicKey))
	})

	t.Run("key file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "key.txt")
		require.NoError(t, os.WriteFile(filename, []byte(hexKey+"\n"), 0600))

		privateKey, err := loadPrivateKey(config{PrivateKeyFile: filename})
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(privateKey.PublicKey))
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := loadPrivateKey(config{PrivateKeyFile: filepath.Join(t.TempDir(), "nope")})
		require.Error(t, err)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := loadPrivateKey(config{PrivateKey: "0xnothex"})
		require.Error(t, err)
	})
}

func TestWebsocketEndpoint(t *testing.T) {
	require.Equal(t, "ws://localhost:4000", websocketEndpoint("http://localhost:4000"))
	require.Equal(t, "wss://worldmap.example.com/", websocketEndpoint("https://worldmap.example.com/"))
	require.Equal(t, "ws://already", websocketEndpoint("ws://already"))
}
