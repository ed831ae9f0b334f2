// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

//go:build tools

package pedeps

import (
	_ "golang.org/x/tools/cmd/goimports"
)
