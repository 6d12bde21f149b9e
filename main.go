package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/anvil-dev/middleware-operators/api/v1alpha1"
	"github.com/anvil-dev/middleware-operators/controllers"
	"github.com/anvil-dev/middleware-operators/internal/logging"
	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
	"github.com/anvil-dev/middleware-operators/version"
	// +kubebuilder:scaffold:imports
)

var (
	scheme              = runtime.NewScheme()
	setupLog            = ctrl.Log.WithName("setup")
	leaderRetryDuration = 5 * time.Second
)

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
	// +kubebuilder:scaffold:scheme
}

func main() {
	var (
		enableLeaderElection    bool
		leaderElectionID        string
		leaderElectionNamespace string
		metricsAddr             string
		probeAddr               string
		printVersion            bool
		logFormat               string
		logLevel                string
		maxConcurrentReconciles int
		zookeeperSessionTimeout time.Duration
		enableZookeeper         bool
		enableRabbitmq          bool
		enableFluentBit         bool
		leaderRenewSeconds      uint
	)

	flag.StringVar(&metricsAddr, "metrics-addr", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-addr", ":8081", "The address the health and readiness probe endpoints bind to.")
	flag.BoolVar(&enableLeaderElection, "enable-leader-election", true,
		"Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")
	flag.StringVar(&leaderElectionID, "leader-election-id", "middleware-operators-leader-election-helper",
		"The name of the lease that leader election will use for holding the leader lock.")
	flag.StringVar(&leaderElectionNamespace, "leader-election-namespace", "",
		"The namespace of the leader election lease. Defaults to the namespace the operator runs in.")
	flag.UintVar(&leaderRenewSeconds, "leader-renew-seconds", 10, "Leader renewal frequency - for leader election")
	flag.StringVar(&logFormat, "log-format", logging.FormatJSON, "Log encoding, json or console.")
	flag.StringVar(&logLevel, "log-level", "info", "Log level name, or a negative number to enable verbose logs, e.g. -2 for V(2).")
	flag.IntVar(&maxConcurrentReconciles, "max-concurrent-reconciles", 1,
		"How many resources of each kind may be reconciled at the same time.")
	flag.DurationVar(&zookeeperSessionTimeout, "zookeeper-session-timeout", 10*time.Second,
		"Session timeout of the ZooKeeper connections used to publish ensemble sizes.")
	flag.BoolVar(&enableZookeeper, "enable-zookeeper", true, "Run the ZookeeperCluster controller.")
	flag.BoolVar(&enableRabbitmq, "enable-rabbitmq", true, "Run the RabbitmqCluster controller.")
	flag.BoolVar(&enableFluentBit, "enable-fluentbit", true, "Run the FluentBit controller.")
	flag.BoolVar(&printVersion, "version", false,
		"Print version to stdout and exit")
	flag.Parse()

	renewDeadline := time.Duration(leaderRenewSeconds) * time.Second
	leaseDuration := time.Duration(int(1.2*float64(leaderRenewSeconds))) * time.Second

	if printVersion {
		fmt.Println(version.Version)
		return
	}

	log, err := logging.New(logging.Options{Format: logFormat, Level: logLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctrl.SetLogger(log)

	setupLog.Info(
		"Starting manager",
		"version", version.Version,
		"zookeeper", enableZookeeper,
		"rabbitmq", enableRabbitmq,
		"fluentbit", enableFluentBit,
		"max-concurrent-reconciles", maxConcurrentReconciles,
	)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                        scheme,
		Metrics:                       metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress:        probeAddr,
		LeaderElection:                enableLeaderElection,
		LeaderElectionID:              leaderElectionID,
		LeaderElectionNamespace:       leaderElectionNamespace,
		LeaderElectionReleaseOnCancel: true,
		LeaderElectionResourceLock:    resourcelock.LeasesResourceLock,
		RenewDeadline:                 &renewDeadline,
		LeaseDuration:                 &leaseDuration,
		RetryPeriod:                   &leaderRetryDuration,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if enableZookeeper {
		if err = (&controllers.ZookeeperClusterReconciler{
			Client:   mgr.GetClient(),
			Log:      ctrl.Log.WithName("controllers").WithName("ZookeeperCluster"),
			Recorder: mgr.GetEventRecorderFor("zookeepercluster-reconciler"),

			ZooKeeper:               &zookeeper.ClientZooKeeperAPIBuilder{},
			ZooKeeperSessionTimeout: zookeeperSessionTimeout,
			MaxConcurrentReconciles: maxConcurrentReconciles,
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "ZookeeperCluster")
			os.Exit(1)
		}
	}
	if enableRabbitmq {
		if err = (&controllers.RabbitmqClusterReconciler{
			Client:                  mgr.GetClient(),
			Log:                     ctrl.Log.WithName("controllers").WithName("RabbitmqCluster"),
			Recorder:                mgr.GetEventRecorderFor("rabbitmqcluster-reconciler"),
			MaxConcurrentReconciles: maxConcurrentReconciles,
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "RabbitmqCluster")
			os.Exit(1)
		}
	}
	if enableFluentBit {
		if err = (&controllers.FluentBitReconciler{
			Client:                  mgr.GetClient(),
			Log:                     ctrl.Log.WithName("controllers").WithName("FluentBit"),
			Recorder:                mgr.GetEventRecorderFor("fluentbit-reconciler"),
			MaxConcurrentReconciles: maxConcurrentReconciles,
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "FluentBit")
			os.Exit(1)
		}
	}
	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	if os.Getenv("ENABLE_PPROF") != "" {
		setupLog.Info("Running profiling webserver")
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/debug/pprof", pprof.Index)
			err := http.ListenAndServe(":7777", mux)
			if err != nil {
				setupLog.Error(err, "pprof http error")
				os.Exit(1)
			}
		}()
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
