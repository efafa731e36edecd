package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmarket/core"
)

func TestNewTxSignsAndAdvancesNonce(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	w.SetNonce(7)

	tx, err := w.List("punks", "1", 1000)
	require.NoError(t, err)
	assert.Equal(t, core.TxListNFT, tx.Type)
	assert.Equal(t, "test-chain", tx.ChainID)
	assert.Equal(t, w.PubKey(), tx.From)
	assert.EqualValues(t, 7, tx.Nonce)
	assert.Equal(t, tx.Hash(), tx.ID)
	require.NoError(t, tx.Verify())

	next, err := w.Purchase("punks", "1", 1010)
	require.NoError(t, err)
	assert.EqualValues(t, 8, next.Nonce)
	assert.EqualValues(t, 9, w.Nonce())
}

func TestTamperedTxFailsVerify(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	tx, err := w.Transfer(w.PubKey(), 5)
	require.NoError(t, err)

	tx.ChainID = "other-chain"
	assert.Error(t, tx.Verify())
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate("test-chain")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")

	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	priv, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PubKey(), priv.Public().Hex())

	_, err = LoadKey(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}
