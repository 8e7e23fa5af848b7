// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package messages

// SizeBasedDispatch weighs message dispatch by payload size. It models
// chains where execution cost grows linearly with the payload.
type SizeBasedDispatch struct {
	BaseWeight    Weight
	WeightPerByte Weight
}

func (d SizeBasedDispatch) DispatchWeight(payload []byte) Weight {
	return d.BaseWeight + d.WeightPerByte*Weight(len(payload))
}

func (d SizeBasedDispatch) Dispatch(_ Message) bool {
	return true
}
