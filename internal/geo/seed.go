package geo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	id "togoretrouve/pkg/domain"
)

// seedNamespace derives stable identifiers so every instance and every store
// agrees on the ids of the reference data.
var seedNamespace = uuid.MustParse("6f1b7c62-3f0e-4a43-9d1e-3c8f4c1f8a10")

type regionSeed struct {
	name        string
	prefectures []string
}

var togo = []regionSeed{
	{"Maritime", []string{"Lomé", "Lacs", "Vo", "Yoto", "Zio"}},
	{"Plateaux", []string{"Haho", "Amou", "Wawa", "Ogou", "Danyi"}},
	{"Centrale", []string{"Blitta", "Sotouboua", "Tchamba", "Tchaoudjo"}},
	{"Kara", []string{"Kozah", "Assoli", "Bassar", "Dankpen", "Kéran", "Binah"}},
	{"Savanes", []string{"Tône", "Cinkassé", "Kpendjal", "Oti", "Tandjoaré"}},
}

// SeedData returns Togo's regions and prefectures with one central
// commissariat per prefecture.
func SeedData() ([]Region, []Prefecture, []Structure) {
	var (
		regions     []Region
		prefectures []Prefecture
		structures  []Structure
	)
	for _, r := range togo {
		region := Region{
			ID:   id.RegionID(uuid.NewSHA1(seedNamespace, []byte("region:"+r.name))),
			Name: r.name,
		}
		regions = append(regions, region)
		for _, p := range r.prefectures {
			pref := Prefecture{
				ID:       id.PrefectureID(uuid.NewSHA1(seedNamespace, []byte("prefecture:"+r.name+"/"+p))),
				RegionID: region.ID,
				Name:     p,
			}
			prefectures = append(prefectures, pref)
			name := "Commissariat central de " + p
			structures = append(structures, Structure{
				ID:           id.StructureID(uuid.NewSHA1(seedNamespace, []byte("structure:"+r.name+"/"+p+"/"+name))),
				PrefectureID: pref.ID,
				Name:         name,
				Kind:         KindCommissariat,
			})
		}
	}
	return regions, prefectures, structures
}

// Seed loads the reference data into store. Existing rows are left untouched.
func Seed(ctx context.Context, store Store) error {
	regions, prefectures, structures := SeedData()
	for _, r := range regions {
		if err := store.UpsertRegion(ctx, r); err != nil {
			return fmt.Errorf("seed region %s: %w", r.Name, err)
		}
	}
	for _, p := range prefectures {
		if err := store.UpsertPrefecture(ctx, p); err != nil {
			return fmt.Errorf("seed prefecture %s: %w", p.Name, err)
		}
	}
	for _, s := range structures {
		if err := store.UpsertStructure(ctx, s); err != nil {
			return fmt.Errorf("seed structure %s: %w", s.Name, err)
		}
	}
	return nil
}
