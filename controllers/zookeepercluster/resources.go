// Package zookeepercluster holds the sub-resource builders and the reconcile pipeline of
// ZookeeperCluster resources.
package zookeepercluster

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/internal/reconciler"
)

const (
	zookeeperContainerName = "zookeeper"
	dataVolumeName         = "data"
	confVolumeName         = "conf"
)

func HeadlessServiceName(cr *v1alpha1.ZookeeperCluster) string {
	return cr.Name + "-headless"
}

func ClientServiceName(cr *v1alpha1.ZookeeperCluster) string {
	return cr.Name + "-client"
}

func AdminServerServiceName(cr *v1alpha1.ZookeeperCluster) string {
	return cr.Name + "-admin-server"
}

func ConfigMapName(cr *v1alpha1.ZookeeperCluster) string {
	return cr.Name + "-configmap"
}

func StatefulSetName(cr *v1alpha1.ZookeeperCluster) string {
	return cr.Name
}

// ZNodePath is where the ensemble size is published for the servers' dynamic
// reconfiguration scripts.
func ZNodePath(cr *v1alpha1.ZookeeperCluster) string {
	return v1alpha1.ZookeeperNodeParentPath + "/" + cr.Name
}

// ZNodeData is the content of ZNodePath.
func ZNodeData(cr *v1alpha1.ZookeeperCluster) []byte {
	return []byte(fmt.Sprintf("CLUSTER_SIZE=%d", *cr.Spec.Replicas))
}

func owner(cr *v1alpha1.ZookeeperCluster) metav1.OwnerReference {
	return reconciler.ControllerRef(cr, v1alpha1.GroupVersion.WithKind(v1alpha1.ZookeeperClusterKind))
}

func objectMeta(cr *v1alpha1.ZookeeperCluster, name string) metav1.ObjectMeta {
	return reconciler.ObjectMeta(name, cr.Namespace, owner(cr),
		reconciler.Labels(cr.Spec.Labels, cr.Name),
		reconciler.Annotations(cr.Spec.Annotations))
}

func selector(cr *v1alpha1.ZookeeperCluster) map[string]string {
	return map[string]string{v1alpha1.AppLabel: cr.Name}
}

func servicePort(name string, port int32) corev1.ServicePort {
	return corev1.ServicePort{
		Name:       name,
		Protocol:   corev1.ProtocolTCP,
		Port:       port,
		TargetPort: intstr.FromInt32(port),
	}
}

func makeHeadlessService(cr *v1alpha1.ZookeeperCluster) *corev1.Service {
	ports := cr.Spec.Ports
	return &corev1.Service{
		ObjectMeta: objectMeta(cr, HeadlessServiceName(cr)),
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Ports: []corev1.ServicePort{
				servicePort("tcp-client", ports.Client),
				servicePort("tcp-quorum", ports.Quorum),
				servicePort("tcp-leader-election", ports.LeaderElection),
				servicePort("tcp-metrics", ports.Metrics),
				servicePort("tcp-admin-server", ports.AdminServer),
			},
			Selector: selector(cr),
			// Servers must resolve each other before they are ready to form a quorum.
			PublishNotReadyAddresses: true,
		},
	}
}

func makeClientService(cr *v1alpha1.ZookeeperCluster) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: objectMeta(cr, ClientServiceName(cr)),
		Spec: corev1.ServiceSpec{
			Ports:    []corev1.ServicePort{servicePort("tcp-client", cr.Spec.Ports.Client)},
			Selector: selector(cr),
		},
	}
}

func makeAdminServerService(cr *v1alpha1.ZookeeperCluster) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: objectMeta(cr, AdminServerServiceName(cr)),
		Spec: corev1.ServiceSpec{
			Ports:    []corev1.ServicePort{servicePort("tcp-admin-server", cr.Spec.Ports.AdminServer)},
			Selector: selector(cr),
		},
	}
}

// updateService copies the controller-owned fields of desired onto observed. The
// cluster IP and everything else the API server allocates is kept.
func updateService(observed, desired *corev1.Service) (*corev1.Service, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Spec.Ports = desired.Spec.Ports
	observed.Spec.Selector = desired.Spec.Selector
	observed.Spec.PublishNotReadyAddresses = desired.Spec.PublishNotReadyAddresses
	return observed, nil
}

func makeConfigMap(cr *v1alpha1.ZookeeperCluster) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: objectMeta(cr, ConfigMapName(cr)),
		Data: map[string]string{
			"zoo.cfg":                zooCfg(cr),
			"log4j.properties":       log4jProperties("INFO"),
			"log4j-quiet.properties": log4jProperties("ERROR"),
			"env.sh":                 envSh(cr),
		},
	}
}

func updateConfigMap(observed, desired *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Data = desired.Data
	return observed, nil
}

func zooCfg(cr *v1alpha1.ZookeeperCluster) string {
	c := cr.Spec.Conf
	var b strings.Builder
	line := func(k string, v interface{}) {
		fmt.Fprintf(&b, "%s=%v\n", k, v)
	}
	line("4lw.commands.whitelist", "cons, envi, conf, crst, srvr, stat, mntr, ruok")
	line("dataDir", v1alpha1.ZookeeperDataMountPath)
	line("standaloneEnabled", false)
	line("reconfigEnabled", true)
	line("skipACL", "yes")
	line("metricsProvider.className", "org.apache.zookeeper.metrics.prometheus.PrometheusMetricsProvider")
	line("metricsProvider.httpPort", cr.Spec.Ports.Metrics)
	line("metricsProvider.exportJvmInfo", true)
	line("initLimit", c.InitLimit)
	line("syncLimit", c.SyncLimit)
	line("tickTime", c.TickTime)
	line("globalOutstandingLimit", c.GlobalOutstandingLimit)
	line("preAllocSize", c.PreAllocSize)
	line("snapCount", c.SnapCount)
	line("commitLogCount", c.CommitLogCount)
	line("snapSizeLimitInKb", c.SnapSizeLimitInKb)
	line("maxCnxns", c.MaxCnxns)
	line("maxClientCnxns", c.MaxClientCnxns)
	line("minSessionTimeout", c.MinSessionTimeout)
	line("maxSessionTimeout", c.MaxSessionTimeout)
	line("autopurge.snapRetainCount", c.AutoPurgeSnapRetainCount)
	line("autopurge.purgeInterval", c.AutoPurgePurgeInterval)
	line("quorumListenOnAllIPs", c.QuorumListenOnAllIPs)
	line("admin.serverPort", cr.Spec.Ports.AdminServer)
	line("dynamicConfigFile", v1alpha1.ZookeeperDataMountPath+"/zoo.cfg.dynamic")
	return b.String()
}

func log4jProperties(threshold string) string {
	return strings.Join([]string{
		"zookeeper.root.logger=CONSOLE",
		"zookeeper.console.threshold=" + threshold,
		"log4j.rootLogger=${zookeeper.root.logger}",
		"log4j.appender.CONSOLE=org.apache.log4j.ConsoleAppender",
		"log4j.appender.CONSOLE.Threshold=${zookeeper.console.threshold}",
		"log4j.appender.CONSOLE.layout=org.apache.log4j.PatternLayout",
		"log4j.appender.CONSOLE.layout.ConversionPattern=%d{ISO8601} [myid:%X{myid}] - %-5p [%t:%C{1}@%L] - %m%n",
		"",
	}, "\n")
}

// envSh is sourced by the server start scripts of the image.
func envSh(cr *v1alpha1.ZookeeperCluster) string {
	ports := cr.Spec.Ports
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n\n")
	fmt.Fprintf(&b, "DOMAIN=%s.%s.svc.cluster.local\n", HeadlessServiceName(cr), cr.Namespace)
	fmt.Fprintf(&b, "QUORUM_PORT=%d\n", ports.Quorum)
	fmt.Fprintf(&b, "LEADER_PORT=%d\n", ports.LeaderElection)
	fmt.Fprintf(&b, "CLIENT_HOST=%s\n", ClientServiceName(cr))
	fmt.Fprintf(&b, "CLIENT_PORT=%d\n", ports.Client)
	fmt.Fprintf(&b, "ADMIN_SERVER_HOST=%s\n", AdminServerServiceName(cr))
	fmt.Fprintf(&b, "ADMIN_SERVER_PORT=%d\n", ports.AdminServer)
	fmt.Fprintf(&b, "CLUSTER_NAME=%s\n", cr.Name)
	fmt.Fprintf(&b, "CLUSTER_SIZE=%d\n", *cr.Spec.Replicas)
	return b.String()
}

func makeStatefulSet(cr *v1alpha1.ZookeeperCluster, st *reconciler.State) (*appsv1.StatefulSet, error) {
	rv := st.Threaded.LatestConfigMapRV
	if rv == nil {
		return nil, errors.Wrap(reconciler.ErrMissingSlot, "ConfigMap resource version")
	}
	sts := &appsv1.StatefulSet{
		ObjectMeta: objectMeta(cr, StatefulSetName(cr)),
		Spec: appsv1.StatefulSetSpec{
			Replicas:    ptr.To(*cr.Spec.Replicas),
			ServiceName: HeadlessServiceName(cr),
			Selector: &metav1.LabelSelector{
				MatchLabels: selector(cr),
			},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
				Type: appsv1.RollingUpdateStatefulSetStrategyType,
			},
			PodManagementPolicy:                  appsv1.OrderedReadyPodManagement,
			Template:                             podTemplate(cr, *rv),
			PersistentVolumeClaimRetentionPolicy: retentionPolicy(),
		},
	}
	if cr.Spec.Persistence.Enabled {
		claim, err := dataVolumeClaim(cr)
		if err != nil {
			return nil, err
		}
		sts.Spec.VolumeClaimTemplates = []corev1.PersistentVolumeClaim{*claim}
	}
	return sts, nil
}

// updateStatefulSet overwrites the replica count, the pod template and the claim
// retention policy. Volume claim templates are immutable and are kept.
func updateStatefulSet(observed, desired *appsv1.StatefulSet) (*appsv1.StatefulSet, error) {
	if err := reconciler.Adopt(observed, desired.ObjectMeta); err != nil {
		return nil, err
	}
	observed.Spec.Replicas = desired.Spec.Replicas
	observed.Spec.Template = desired.Spec.Template
	observed.Spec.PersistentVolumeClaimRetentionPolicy = desired.Spec.PersistentVolumeClaimRetentionPolicy
	return observed, nil
}

func retentionPolicy() *appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy {
	return &appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy{
		WhenDeleted: appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
		WhenScaled:  appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
	}
}

func dataVolumeClaim(cr *v1alpha1.ZookeeperCluster) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(cr.Spec.Persistence.StorageSize)
	if err != nil {
		return nil, errors.Wrap(err, "parsing storage size")
	}
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   dataVolumeName,
			Labels: selector(cr),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: cr.Spec.Persistence.StorageClassName,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: size,
				},
			},
		},
	}, nil
}

func podTemplate(cr *v1alpha1.ZookeeperCluster, configRV string) corev1.PodTemplateSpec {
	annotations := reconciler.Annotations(cr.Spec.Annotations)
	annotations[v1alpha1.LastRestartAtAnnotation] = configRV

	ports := cr.Spec.Ports
	container := corev1.Container{
		Name:            zookeeperContainerName,
		Image:           cr.Spec.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         []string{"/usr/local/bin/zookeeperStart.sh"},
		Ports: []corev1.ContainerPort{
			{Name: "client", ContainerPort: ports.Client, Protocol: corev1.ProtocolTCP},
			{Name: "quorum", ContainerPort: ports.Quorum, Protocol: corev1.ProtocolTCP},
			{Name: "leader-election", ContainerPort: ports.LeaderElection, Protocol: corev1.ProtocolTCP},
			{Name: "metrics", ContainerPort: ports.Metrics, Protocol: corev1.ProtocolTCP},
			{Name: "admin-server", ContainerPort: ports.AdminServer, Protocol: corev1.ProtocolTCP},
		},
		ReadinessProbe: execProbe("zookeeperReady.sh", 10),
		LivenessProbe:  execProbe("zookeeperLive.sh", 10),
		Lifecycle: &corev1.Lifecycle{
			PreStop: &corev1.LifecycleHandler{
				Exec: &corev1.ExecAction{Command: []string{"zookeeperTeardown.sh"}},
			},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: dataVolumeName, MountPath: v1alpha1.ZookeeperDataMountPath},
			{Name: confVolumeName, MountPath: v1alpha1.ZookeeperConfMountPath},
		},
	}
	if cr.Spec.Resources != nil {
		container.Resources = *cr.Spec.Resources.DeepCopy()
	}

	volumes := []corev1.Volume{
		{
			Name: confVolumeName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName(cr)},
				},
			},
		},
	}
	if !cr.Spec.Persistence.Enabled {
		volumes = append(volumes, corev1.Volume{
			Name:         dataVolumeName,
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
	}

	spec := corev1.PodSpec{
		Containers:   []corev1.Container{container},
		Volumes:      volumes,
		NodeSelector: cr.Spec.NodeSelector,
	}
	if cr.Spec.Affinity != nil {
		spec.Affinity = cr.Spec.Affinity.DeepCopy()
	}
	for _, t := range cr.Spec.Tolerations {
		spec.Tolerations = append(spec.Tolerations, *t.DeepCopy())
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      reconciler.Labels(cr.Spec.Labels, cr.Name),
			Annotations: annotations,
		},
		Spec: spec,
	}
}

func execProbe(script string, period int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{Command: []string{script}},
		},
		InitialDelaySeconds: 10,
		PeriodSeconds:       period,
		TimeoutSeconds:      10,
		FailureThreshold:    3,
		SuccessThreshold:    1,
	}
}

// readyReplicas is the status payload taken from the workload.
func readyReplicas(sts *appsv1.StatefulSet) int32 {
	return sts.Status.ReadyReplicas
}
