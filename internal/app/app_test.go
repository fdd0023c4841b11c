package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildlead/dsa-harvester/internal/config"
)

func TestNewWiresServices(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = ":memory:"
	cfg.Logging.Development = false

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Navigator)
	require.NotNil(t, a.Controller)
	require.NotNil(t, a.Server)

	// The store is usable immediately, county registry included.
	counties, err := a.Store.Counties()
	require.NoError(t, err)
	require.Len(t, counties, 58)
}

func TestNewRejectsUnknownClassifier(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = ":memory:"
	cfg.Classifier.Strategy = "bogus"

	_, err = New(cfg)
	require.Error(t, err)
}
