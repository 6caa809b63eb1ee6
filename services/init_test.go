package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmarcwatch/dmarcwatch/config"
)

func TestAlertConfig(t *testing.T) {
	got := alertConfig(&config.AlertConfig{
		PassRateDropThreshold: 12.5,
		NewSourceMinMessages:  25,
	})

	assert.Equal(t, 12.5, got.PassRateDropThreshold)
	assert.Equal(t, int64(25), got.NewSourceMinMessages)
}
