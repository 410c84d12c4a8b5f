package thehague

// ID is the provider id declared in manifest.json.
const ID = "thehague"

const (
	sessionEndpoint     = "/session/0"
	accountEndpoint     = "/account/0"
	reservationEndpoint = "/reservation"
	favoriteEndpoint    = "/favorite"

	requestedWithHeader   = "X-Requested-With"
	permitMediaTypeHeader = "X-Permit-Media-Type-Id"

	defaultRequestedWith = "angular"
)

// Extra credential key accepted next to username/password.
const credentialPermitMediaTypeID = "permit_media_type_id"
