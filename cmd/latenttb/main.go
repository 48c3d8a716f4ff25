// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import latenttb "github.com/walkerazam/RNAseq-LatentTB"

func main() {
	latenttb.Main()
}
