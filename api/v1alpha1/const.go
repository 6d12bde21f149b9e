package v1alpha1

const (
	AppLabel = "app"

	// LastRestartAtAnnotation is stamped on pod templates with the resource version of the
	// configuration object the pods consume. A new value rolls the pods.
	LastRestartAtAnnotation  = "anvil.dev/lastRestartAt"
	ReservedAnnotationPrefix = "anvil.dev/"

	ZookeeperClusterKind = "ZookeeperCluster"
	RabbitmqClusterKind  = "RabbitmqCluster"
	FluentBitKind        = "FluentBit"

	DefaultZookeeperImage             = "pravega/zookeeper:0.2.14"
	DefaultZookeeperReplicas    int32 = 3
	DefaultZookeeperStorageSize       = "20Gi"
	ZookeeperClientPort         int32 = 2181
	ZookeeperQuorumPort         int32 = 2888
	ZookeeperLeaderElectionPort int32 = 3888
	ZookeeperMetricsPort        int32 = 7000
	ZookeeperAdminServerPort    int32 = 8080
	ZookeeperDataMountPath            = "/data"
	ZookeeperConfMountPath            = "/conf"
	ZookeeperNodeParentPath           = "/zookeeper-operator"

	DefaultRabbitmqImage           = "rabbitmq:3.11.10-management"
	DefaultRabbitmqReplicas  int32 = 1
	DefaultRabbitmqStorage         = "10Gi"
	RabbitmqAMQPPort         int32 = 5672
	RabbitmqManagementPort   int32 = 15672
	RabbitmqPrometheusPort   int32 = 15692
	RabbitmqEPMDPort         int32 = 4369
	RabbitmqDistributionPort int32 = 25672
	RabbitmqDataMountPath          = "/var/lib/rabbitmq/mnesia/"
	minimumRabbitmqVersion         = "3.8.0"

	DefaultFluentBitImage      = "fluent/fluent-bit:1.8.12"
	FluentBitMetricsPort int32 = 2020
)
