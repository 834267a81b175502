/*
Package pyramid models the quadtree of tile coordinates across depths
0..D without materializing nodes: parent/child relations are coordinate
arithmetic, and only walks over live coordinates exist at runtime.  The
package is pure computation; storage and projection concerns live in the
storage and toast packages.
*/
package pyramid
