// Package envvar names the environment variables the operators set on workload containers.
package envvar

const (
	PodName      = "MY_POD_NAME"
	PodNamespace = "MY_POD_NAMESPACE"

	// Read by the rabbitmq_peer_discovery_k8s plugin.
	K8sServiceName    = "K8S_SERVICE_NAME"
	K8sHostnameSuffix = "K8S_HOSTNAME_SUFFIX"

	RabbitmqUseLongName        = "RABBITMQ_USE_LONGNAME"
	RabbitmqNodeName           = "RABBITMQ_NODENAME"
	RabbitmqEnabledPluginsFile = "RABBITMQ_ENABLED_PLUGINS_FILE"
	RabbitmqAdvancedConfigFile = "RABBITMQ_ADVANCED_CONFIG_FILE"
	RabbitmqConfEnvFile        = "RABBITMQ_CONF_ENV_FILE"
)
