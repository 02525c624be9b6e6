// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package custom is the compiled-in stand-in for CUSTOM_CHECKS_DIRECTORY:
// site-specific probes that should shadow a built-in probe of the same
// module_name. It registers nothing by default; a deployment adds its own
// probes here (or in a sibling package blank-imported from main) and calls
// proberegistry.RegisterCustom in an init function.
package custom
