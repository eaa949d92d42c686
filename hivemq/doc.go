// Package hivemq runs a HiveMQ MQTT broker in Docker for integration tests.
//
// A broker is configured with options and started with Run:
//
//	broker, err := hivemq.Run(ctx,
//	    hivemq.WithImage("hivemq/hivemq4", "latest"),
//	    hivemq.WithLicense("testdata/myLicense.lic"),
//	    hivemq.WithExtension(&hivemq.Extension{
//	        ID:      "my-extension",
//	        Name:    "My Extension",
//	        Version: "1.0",
//	        JarPath: "build/libs/my-extension.jar",
//	    }))
//	if err != nil {
//	    return err
//	}
//	defer broker.Stop(ctx)
//
//	url, _ := broker.BrokerURL()
//
// Extensions can be deployed from a packaged folder (WithExtensionDir), a
// descriptor plus jar (WithExtension) or a build (WithExtensionSupplier with a
// GradleSupplier or MavenSupplier). Extensions of a running broker are
// disabled and enabled with DisableExtension and EnableExtension, which need
// HiveMQ Enterprise or Professional.
//
// The container is ready once an MQTT client can connect. Images such as
// HiveMQ Edge use WithStartupLogRegex instead.
package hivemq
