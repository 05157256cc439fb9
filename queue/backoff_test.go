// SPDX-License-Identifier: GPL-3.0-or-later
package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay(t *testing.T) {
	delays := []time.Duration{}
	delay := RetryBackoff
	for i := 0; i < 4; i++ {
		delays = append(delays, delay)
		delay = NextDelay(delay)
	}
	assert.Equal(t, []time.Duration{8 * time.Second, 16 * time.Second, 32 * time.Second, 64 * time.Second}, delays)
}

func TestNextDelayCap(t *testing.T) {
	assert.Equal(t, 600*time.Second, NextDelay(400*time.Second))
	assert.Equal(t, 600*time.Second, NextDelay(600*time.Second))
	assert.Equal(t, 600*time.Second, NextDelay(MaxBackoff*4))
}
