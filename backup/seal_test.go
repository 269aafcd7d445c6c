package backup

import (
	"testing"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealMnemonic_RoundTrip(t *testing.T) {
	mnemonic, err := keys.NewMnemonic(keys.DefaultMnemonicWords)
	require.NoError(t, err)

	data, err := SealMnemonic("135790", "  "+mnemonic+" ")
	require.NoError(t, err)
	assert.NotContains(t, data, mnemonic)

	opened, err := OpenMnemonic("135790", data)
	require.NoError(t, err)
	assert.Equal(t, mnemonic, opened)
}

func TestOpenMnemonic_WrongPin(t *testing.T) {
	mnemonic, err := keys.NewMnemonic(keys.DefaultMnemonicWords)
	require.NoError(t, err)
	data, err := SealMnemonic("135790", mnemonic)
	require.NoError(t, err)

	_, err = OpenMnemonic("000000", data)
	require.ErrorIs(t, err, interfaces.ErrDecryption)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)
	assert.Equal(t, StateWrongPin, failureState(StateCollectingShares, err))

	_, err = OpenMnemonic("135790", "not base64!")
	require.ErrorIs(t, err, interfaces.ErrDecryption)
}

func TestOpenMnemonic_InvalidPhrase(t *testing.T) {
	data, err := SealMnemonic("135790", "not a valid seed phrase")
	require.NoError(t, err)

	_, err = OpenMnemonic("135790", data)
	require.ErrorIs(t, err, keys.ErrInvalidMnemonic)
	require.ErrorIs(t, err, interfaces.ErrDecryption)
}

func TestSealMnemonic_EmptyPin(t *testing.T) {
	_, err := SealMnemonic("", "abandon")
	require.ErrorIs(t, err, interfaces.ErrConfiguration)
}
