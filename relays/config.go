// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package relays

// LoopConfig tunes a relay pipeline's polling behaviour. Both values are
// operator-tunable and carry no protocol meaning.
type LoopConfig struct {
	// Seconds between polling cycles
	PollInterval uint `mapstructure:"poll-interval"`
	// Seconds to wait before restarting a failed pipeline
	RestartDelay uint `mapstructure:"restart-delay"`
}
