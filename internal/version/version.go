/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

// Version is the build version, overridable at link time.
var Version = "0.1.0-alpha"
