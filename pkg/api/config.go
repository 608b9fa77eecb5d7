package api

import "github.com/marmos91/usbsas/pkg/apitypes"

// APIConfig configures the front-end session controller's HTTP server: the
// device/partition/copy/wipe/imgdisk request surface, the progress stream,
// and the admin session-listing endpoints.
//
// When Enabled is false, no API server is started (zero overhead).
//
// Defined in pkg/apitypes to avoid an import cycle (pkg/config and
// pkg/api/handlers need this type but pkg/api depends on pkg/session, which
// depends on pkg/config).
type APIConfig = apitypes.APIConfig
