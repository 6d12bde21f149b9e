package v1alpha1

import (
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/utils/ptr"
)

// Default sets default values for optional ZookeeperCluster fields.
// The reconciler calls it at the start of every round so that builders never see
// nil pointers or zero ports.
func (o *ZookeeperCluster) Default() {
	if o == nil {
		return
	}
	if o.Spec.Replicas == nil {
		o.Spec.Replicas = ptr.To(DefaultZookeeperReplicas)
	}
	if o.Spec.Image == "" {
		o.Spec.Image = DefaultZookeeperImage
	}
	o.Spec.Ports.setDefaults()
	o.Spec.Conf.setDefaults()
	if o.Spec.Persistence.StorageSize == "" {
		o.Spec.Persistence.StorageSize = DefaultZookeeperStorageSize
	}
}

func (o *ZookeeperPorts) setDefaults() {
	defaultInt32(&o.Client, ZookeeperClientPort)
	defaultInt32(&o.Quorum, ZookeeperQuorumPort)
	defaultInt32(&o.LeaderElection, ZookeeperLeaderElectionPort)
	defaultInt32(&o.Metrics, ZookeeperMetricsPort)
	defaultInt32(&o.AdminServer, ZookeeperAdminServerPort)
}

func (o *ZookeeperConfig) setDefaults() {
	defaultInt32(&o.InitLimit, 10)
	defaultInt32(&o.TickTime, 2000)
	defaultInt32(&o.SyncLimit, 2)
	defaultInt32(&o.GlobalOutstandingLimit, 1000)
	defaultInt32(&o.PreAllocSize, 65536)
	defaultInt32(&o.SnapCount, 10000)
	defaultInt32(&o.CommitLogCount, 500)
	defaultInt32(&o.SnapSizeLimitInKb, 4194304)
	defaultInt32(&o.MaxClientCnxns, 60)
	defaultInt32(&o.MinSessionTimeout, 2*o.TickTime)
	defaultInt32(&o.MaxSessionTimeout, 20*o.TickTime)
	defaultInt32(&o.AutoPurgeSnapRetainCount, 3)
	defaultInt32(&o.AutoPurgePurgeInterval, 1)
}

// Default sets default values for optional RabbitmqCluster fields.
func (o *RabbitmqCluster) Default() {
	if o == nil {
		return
	}
	if o.Spec.Replicas == nil {
		o.Spec.Replicas = ptr.To(DefaultRabbitmqReplicas)
	}
	if o.Spec.Image == "" {
		o.Spec.Image = DefaultRabbitmqImage
	}
	if o.Spec.Persistence.Storage == "" {
		o.Spec.Persistence.Storage = DefaultRabbitmqStorage
	}
	if o.Spec.PodManagementPolicy == "" {
		o.Spec.PodManagementPolicy = appsv1.ParallelPodManagement
	}
	// The API server fills this in when it is left empty, which would make every
	// StatefulSet update look like a change.
	if o.Spec.PersistentVolumeClaimRetentionPolicy == nil {
		o.Spec.PersistentVolumeClaimRetentionPolicy = &appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy{
			WhenDeleted: appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
			WhenScaled:  appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
		}
	}
}

// Default sets default values for optional FluentBit fields.
func (o *FluentBit) Default() {
	if o == nil {
		return
	}
	if o.Spec.Image == "" {
		o.Spec.Image = DefaultFluentBitImage
	}
}

func defaultInt32(v *int32, d int32) {
	if *v == 0 {
		*v = d
	}
}
