package bodies

// Body type names (spec §2, §4.5 table). Interned as constants so every
// caller that creates or registers a job uses the same literal.
const (
	CoordinateRegisterRoot    = "paasmaker.job.coordinate.register_root"
	CoordinateRegisterRequest = "paasmaker.job.coordinate.register_request"
	CoordinateSelectLocations = "paasmaker.job.coordinate.select_locations"
	CoordinateStartupRoot     = "paasmaker.job.coordinate.startup_root"
	CoordinateShutdownRoot    = "paasmaker.job.coordinate.shutdown_root"
	CoordinateDeregisterRoot  = "paasmaker.job.coordinate.deregister_root"

	HeartPreStartup = "paasmaker.job.heart.pre_startup"
	HeartStartup    = "paasmaker.job.heart.startup"
	HeartShutdown   = "paasmaker.job.heart.shutdown"

	RoutingUpdateAdd    = "paasmaker.job.routing.update.add"
	RoutingUpdateRemove = "paasmaker.job.routing.update.remove"
)
