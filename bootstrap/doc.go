// Package bootstrap wires custodian together: logger, configuration,
// storage, ledger, supplier, detector and the analysis service.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configFile)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	result, err := app.Service.RunTimelineAnalysis(ctx, req)
package bootstrap
