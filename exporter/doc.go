// Package exporter exports tile packages from an ArcGIS VectorTileServer.
//
// The server caps the number of tiles a single exportTiles request may
// produce. When a request is over the cap the server answers with an error
// naming the estimated and maximum tile counts; Service.Export reads those
// counts, cuts the extent into a square grid small enough for each cell to
// fit, and runs one submit, poll and fetch pipeline per cell concurrently.
// The caller gets back the local paths of every downloaded package.
package exporter
