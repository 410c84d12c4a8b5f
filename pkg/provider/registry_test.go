package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
)

func TestRegisterAndNew(t *testing.T) {
	driver := &fakeDriver{}
	Register("registry_test_city", func(opts Options) (Driver, error) {
		assert.Equal(t, "registry_test_city", opts.Manifest.ID)
		return driver, nil
	})

	manifest := Manifest{ID: "registry_test_city", Name: "Registry Test City"}
	api, err := New(manifest, Options{})
	require.NoError(t, err)
	require.NotNil(t, api)
	assert.Equal(t, "registry_test_city", api.Info().ID)

	require.NoError(t, api.Login(context.Background(), Credentials{
		CredentialUsername: "u",
		CredentialPassword: "p",
	}))
	assert.NotNil(t, driver.loginCreds)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Manifest{ID: "registry_test_missing"}, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
}

func TestRegisterPanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("registry_test_nil", nil)
	})

	Register("registry_test_dup", func(Options) (Driver, error) { return &fakeDriver{}, nil })
	assert.Panics(t, func() {
		Register("registry_test_dup", func(Options) (Driver, error) { return &fakeDriver{}, nil })
	})
}

func TestRegisteredIDsSorted(t *testing.T) {
	Register("registry_test_zz", func(Options) (Driver, error) { return &fakeDriver{}, nil })
	Register("registry_test_aa", func(Options) (Driver, error) { return &fakeDriver{}, nil })

	ids := RegisteredIDs()
	var aa, zz int
	for i, id := range ids {
		switch id {
		case "registry_test_aa":
			aa = i
		case "registry_test_zz":
			zz = i
		}
	}
	assert.Less(t, aa, zz)
}
